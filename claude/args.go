package claude

// BuildCommandArgs constructs the Claude CLI argv for a request.
// The prompt is always the final element and is never shell-interpreted.
func BuildCommandArgs(req Request) []string {
	args := []string{"--print"}

	if req.PlanMode {
		// stream-json requires --verbose in print mode
		args = append(args, "--output-format", "stream-json", "--verbose")
	} else {
		args = append(args, "--output-format", "json")
	}

	args = append(args, "--dangerously-skip-permissions")

	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}

	return append(args, req.Prompt)
}
