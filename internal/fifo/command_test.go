package fifo

import (
	"errors"
	"testing"
)

func TestCommand_Build(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"start without skeleton", StartCommand("indi_simulator_ccd", ""), "start indi_simulator_ccd\n"},
		{"start with skeleton", StartCommand("indi_eqmod_telescope", "/usr/share/indi/eqmod_sk.xml"),
			"start indi_eqmod_telescope -s \"/usr/share/indi/eqmod_sk.xml\"\n"},
		{"stop", StopCommand("indi_simulator_ccd"), "stop indi_simulator_ccd\n"},
		{"restart", RestartCommand("indi_simulator_ccd", ""), "stop indi_simulator_ccd\nstart indi_simulator_ccd\n"},
		{"raw adds newline", RawCommand("stop indi_x"), "stop indi_x\n"},
		{"raw keeps single newline", RawCommand("stop indi_x\n"), "stop indi_x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.Build(); got != tt.want {
				t.Errorf("Build() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommand_String(t *testing.T) {
	got := RestartCommand("indi_x", "").String()
	if got != "stop indi_x; start indi_x" {
		t.Errorf("String() = %q", got)
	}
}

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"valid start", StartCommand("indi_x", "/tmp/sk.xml"), false},
		{"valid stop", StopCommand("indi_x"), false},
		{"valid raw", RawCommand("start indi_x"), false},
		{"empty binary", StartCommand("", ""), true},
		{"binary with space", StopCommand("indi x"), true},
		{"binary with newline", StopCommand("indi_x\nstop indi_y"), true},
		{"skeleton with quote", StartCommand("indi_x", `a"b`), true},
		{"empty raw", RawCommand("  \n"), true},
		{"multi-line raw", RawCommand("stop a\nstop b"), true},
		{"unknown kind", Command{Kind: Kind(42)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("Validate() error = %v, want ErrInvalidCommand", err)
			}
		})
	}
}

func TestWriteError_Is(t *testing.T) {
	tests := []struct {
		kind   WriteErrorKind
		target error
		want   bool
	}{
		{NoReader, ErrNoReader, true},
		{NoReader, ErrWouldBlock, false},
		{Transient, ErrWouldBlock, true},
		{Fatal, ErrNoReader, false},
		{Fatal, ErrWriteFailed, true},
		{Transient, ErrWriteFailed, true},
	}

	for _, tt := range tests {
		err := &WriteError{Kind: tt.kind, Op: "write", Path: "/tmp/f", Err: errors.New("x")}
		if got := errors.Is(err, tt.target); got != tt.want {
			t.Errorf("errors.Is(%s, %v) = %v, want %v", tt.kind, tt.target, got, tt.want)
		}
	}
}

func TestResult_Message(t *testing.T) {
	if got := (Result{Success: true}).Message(); got != "ok" {
		t.Errorf("Message() = %q, want ok", got)
	}
	if got := (Result{Err: ErrQueueFull}).Message(); got != ErrQueueFull.Error() {
		t.Errorf("Message() = %q", got)
	}
}
