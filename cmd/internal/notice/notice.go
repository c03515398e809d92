// Package notice carries the short, user-facing outcome attached to responses.
package notice

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notice is a transient message for the user, never a machine contract.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

func Success(msg string) *Notice { return &Notice{Level: LevelSuccess, Message: msg} }
func Error(msg string) *Notice   { return &Notice{Level: LevelError, Message: msg} }
func Warning(msg string) *Notice { return &Notice{Level: LevelWarning, Message: msg} }
func Info(msg string) *Notice    { return &Notice{Level: LevelInfo, Message: msg} }
