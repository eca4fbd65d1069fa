package sandbox

// ToolCallRequest is the closed set of tool calls the sandbox arbitrates.
// Each variant carries exactly the fields its checks need; there is no
// string-keyed payload to mistype.
type ToolCallRequest interface {
	toolCall()
}

// FileRead asks to read a file.
type FileRead struct {
	Path string
}

// FileWrite asks to create or edit a file. For an edit, OldString is the
// text being replaced and NewString its replacement; for a whole-file
// write, OldString is empty and NewString is the full content.
type FileWrite struct {
	Path      string
	OldString string
	NewString string
}

// CommandRun asks to execute a shell command line.
type CommandRun struct {
	Command string
}

func (FileRead) toolCall()   {}
func (FileWrite) toolCall()  {}
func (CommandRun) toolCall() {}

// Category names the check that produced a decision.
type Category string

const (
	CategoryPath         Category = "path"
	CategoryCommand      Category = "command"
	CategoryVerification Category = "verification"
)

// Decision is the sandbox verdict on one request. Hint tells the agent
// how to proceed after a denial; it is returned in the tool-result
// channel, never raised as an error.
type Decision struct {
	Allow    bool
	Category Category
	Reason   string
	Hint     string
}

func allowed() Decision {
	return Decision{Allow: true}
}

func denied(cat Category, reason, hint string) Decision {
	return Decision{Category: cat, Reason: reason, Hint: hint}
}
