package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeNetwork, "pull failed", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNetwork, resp.Error.Code)
	assert.Equal(t, "pull failed", resp.Error.Message)
}

type rendered struct{}

func (rendered) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "rendered verbose=%v\n", verbose)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Success("plain value"))
	require.NoError(t, formatter.Success(rendered{}))
	assert.Equal(t, "plain value\nrendered verbose=true\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E001", "boom", "more"))
	assert.Contains(t, buf.String(), "Error [E001]: boom")
	assert.Contains(t, buf.String(), "Details: more")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := remote.NewNetworkError("since", errors.New("refused"))
	err := formatter.Fail(remoteExitError("pull failed", cause))
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, ErrCodeNetwork, resp.Error.Code)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}

	formatter.VerboseLog("hidden")
	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 1)

	assert.Empty(t, out.String())
	assert.Equal(t, "shown 1\n", diag.String())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad flag"))))

	wrapped := WrapExitError(ExitFailure, "push failed", event.ErrChecksumMismatch)
	assert.Equal(t, "push failed: export checksum mismatch", wrapped.Error())
	assert.ErrorIs(t, wrapped, event.ErrChecksumMismatch)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&remote.SyncError{Code: remote.CodeNotConfigured, Op: "insert", Err: remote.ErrNotConfigured}, ErrCodeNotConfigured},
		{&remote.SyncError{Code: remote.CodeNotAuthenticated, Op: "insert", Err: remote.ErrNotAuthenticated}, ErrCodeNotAuthenticated},
		{remote.NewNetworkError("insert", errors.New("x")), ErrCodeNetwork},
		{remote.NewDecodeError("subscribe", errors.New("x")), ErrCodeDecode},
		{event.ErrChecksumMismatch, ErrCodeChecksum},
		{errors.New("other"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestRemoteExitError(t *testing.T) {
	assert.Equal(t, ExitCommandError, remoteExitError("x", &remote.SyncError{Code: remote.CodeNotAuthenticated, Op: "since", Err: remote.ErrNotAuthenticated}).Code)
	assert.Equal(t, ExitFailure, remoteExitError("x", remote.NewNetworkError("insert", errors.New("x"))).Code)
}
