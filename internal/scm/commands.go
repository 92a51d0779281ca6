package scm

// Command names understood by checkouts.
const (
	CommandSync     = "sync"
	CommandUpdate   = "update"
	CommandStatus   = "status"
	CommandRevert   = "revert"
	CommandRevinfo  = "revinfo"
	CommandValidate = "validate"
	CommandNone     = "None"
)

// IsMutating reports whether command changes the working tree.
func IsMutating(command string) bool {
	switch command {
	case CommandSync, CommandUpdate, CommandRevert:
		return true
	default:
		return false
	}
}

// IsNoop reports whether command leaves checkouts untouched. Discovery still
// runs for these commands.
func IsNoop(command string) bool {
	return command == CommandValidate || command == CommandNone
}
