package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pocketpaw/pocketpaw/internal/commands"
)

// Tool is the minimal shape every session tool implements, matching the
// teacher's internal/tools.Tool contract (Name/Description/Parameters/
// Execute) so a backend that reports the "tools" capability
// (providers.BackendInfo.Capabilities.Tools) can expose these directly
// as callable functions.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// sessionTool is the shared scaffold for every session verb: they all
// take a required session_key argument (spec.md §4.5: "each taking an
// explicit session_key argument") and call into commands.Ops, the same
// operations the text /command handler uses, so the two surfaces never
// diverge in behavior.
type sessionTool struct {
	ops *commands.Ops
}

func sessionKeyArg(args map[string]interface{}) (string, error) {
	v, ok := args["session_key"]
	if !ok {
		return "", fmt.Errorf("missing required argument: session_key")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("session_key must be a non-empty string")
	}
	return s, nil
}

func sessionKeyParam() map[string]interface{} {
	return map[string]interface{}{
		"session_key": map[string]interface{}{
			"type":        "string",
			"description": "The current session key, as given in the system prompt's Session Management block.",
		},
	}
}

// ---- new ----

type NewSessionTool struct{ sessionTool }

func NewNewSessionTool(ops *commands.Ops) *NewSessionTool { return &NewSessionTool{sessionTool{ops}} }

func (t *NewSessionTool) Name() string        { return "new" }
func (t *NewSessionTool) Description() string { return "Start a fresh conversation session, preserving the current one." }
func (t *NewSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": sessionKeyParam(), "required": []string{"session_key"}}
}
func (t *NewSessionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	newKey, err := t.ops.New(key)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return UserResult(fmt.Sprintf("Started a new session: %s", newKey))
}

// ---- sessions ----

type SessionsTool struct{ sessionTool }

func NewSessionsTool(ops *commands.Ops) *SessionsTool { return &SessionsTool{sessionTool{ops}} }

func (t *SessionsTool) Name() string        { return "sessions" }
func (t *SessionsTool) Description() string { return "List every conversation session for the current chat." }
func (t *SessionsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": sessionKeyParam(), "required": []string{"session_key"}}
}
func (t *SessionsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	sessions, err := t.ops.Sessions(key)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if len(sessions) == 0 {
		return NewResult("No sessions found for this chat.")
	}
	var b strings.Builder
	for i, s := range sessions {
		fmt.Fprintf(&b, "%d. %s (%d msgs) — key=%s\n", i+1, s.Title, s.MessageCount, s.SessionKey)
	}
	return NewResult(b.String())
}

// ---- resume ----

type ResumeTool struct{ sessionTool }

func NewResumeTool(ops *commands.Ops) *ResumeTool { return &ResumeTool{sessionTool{ops}} }

func (t *ResumeTool) Name() string        { return "resume" }
func (t *ResumeTool) Description() string { return "Switch the current chat to a different session, by number (from sessions) or by title search." }
func (t *ResumeTool) Parameters() map[string]interface{} {
	props := sessionKeyParam()
	props["query"] = map[string]interface{}{"type": "string", "description": "A session number or a title/preview search string."}
	return map[string]interface{}{"type": "object", "properties": props, "required": []string{"session_key", "query"}}
}
func (t *ResumeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("missing required argument: query")
	}

	if n, convErr := strconv.Atoi(strings.TrimSpace(query)); convErr == nil {
		shown, err := t.ops.Sessions(key)
		if err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
		target, err := t.ops.ResumeByNumber(key, n, shown)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return UserResult(fmt.Sprintf("Resumed session: %s", target.Title))
	}

	matches, err := t.ops.ResumeByText(key, query)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	switch len(matches) {
	case 0:
		return NewResult(fmt.Sprintf("No sessions matching %q.", query))
	case 1:
		if err := t.ops.ResumeMatch(key, matches[0]); err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
		return UserResult(fmt.Sprintf("Resumed session: %s", matches[0].Title))
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "Multiple sessions match %q:\n", query)
		for i, s := range matches {
			fmt.Fprintf(&b, "%d. %s (%d msgs)\n", i+1, s.Title, s.MessageCount)
		}
		return NewResult(b.String())
	}
}

// ---- clear ----

type ClearSessionTool struct{ sessionTool }

func NewClearSessionTool(ops *commands.Ops) *ClearSessionTool { return &ClearSessionTool{sessionTool{ops}} }

func (t *ClearSessionTool) Name() string        { return "clear" }
func (t *ClearSessionTool) Description() string { return "Clear the active session's history, keeping its alias and title." }
func (t *ClearSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": sessionKeyParam(), "required": []string{"session_key"}}
}
func (t *ClearSessionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	count, err := t.ops.Clear(key)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return UserResult(fmt.Sprintf("Cleared %d messages.", count))
}

// ---- rename ----

type RenameSessionTool struct{ sessionTool }

func NewRenameSessionTool(ops *commands.Ops) *RenameSessionTool { return &RenameSessionTool{sessionTool{ops}} }

func (t *RenameSessionTool) Name() string        { return "rename" }
func (t *RenameSessionTool) Description() string { return "Rename the active session." }
func (t *RenameSessionTool) Parameters() map[string]interface{} {
	props := sessionKeyParam()
	props["title"] = map[string]interface{}{"type": "string", "description": "The new session title."}
	return map[string]interface{}{"type": "object", "properties": props, "required": []string{"session_key", "title"}}
}
func (t *RenameSessionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	title, _ := args["title"].(string)
	if title == "" {
		return ErrorResult("missing required argument: title")
	}
	ok, err := t.ops.Rename(key, title)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if !ok {
		return ErrorResult("session not found in index")
	}
	return UserResult(fmt.Sprintf("Session renamed to %q.", title))
}

// ---- status ----

type SessionStatusTool struct{ sessionTool }

func NewSessionStatusTool(ops *commands.Ops) *SessionStatusTool { return &SessionStatusTool{sessionTool{ops}} }

func (t *SessionStatusTool) Name() string        { return "status" }
func (t *SessionStatusTool) Description() string { return "Show the active session's title, message count, and key." }
func (t *SessionStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": sessionKeyParam(), "required": []string{"session_key"}}
}
func (t *SessionStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	info, err := t.ops.Status(key)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("title=%s messages=%d session_key=%s", info.Title, info.MessageCount, info.ResolvedKey))
}

// ---- delete ----

type DeleteSessionTool struct{ sessionTool }

func NewDeleteSessionTool(ops *commands.Ops) *DeleteSessionTool { return &DeleteSessionTool{sessionTool{ops}} }

func (t *DeleteSessionTool) Name() string        { return "delete" }
func (t *DeleteSessionTool) Description() string { return "Delete the active session and its alias." }
func (t *DeleteSessionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": sessionKeyParam(), "required": []string{"session_key"}}
}
func (t *DeleteSessionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key, err := sessionKeyArg(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	deleted, err := t.ops.Delete(key)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if !deleted {
		return NewResult("No session to delete.")
	}
	return UserResult("Session deleted.")
}

// All returns every session tool, ready for registration with a backend
// that supports tool-calling.
func All(ops *commands.Ops) []Tool {
	return []Tool{
		NewNewSessionTool(ops),
		NewSessionsTool(ops),
		NewResumeTool(ops),
		NewClearSessionTool(ops),
		NewRenameSessionTool(ops),
		NewSessionStatusTool(ops),
		NewDeleteSessionTool(ops),
	}
}
