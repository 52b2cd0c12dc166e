package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "nonsense", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "json")
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("GlobalLevel() = %v, want %v", got, tt.want)
			}
		})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestWriterFor(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := writerFor("pretty", &buf).(zerolog.ConsoleWriter); !ok {
		t.Error("pretty format should use a console writer")
	}
	if w := writerFor("json", &buf); w != &buf {
		t.Error("json format should write to the output as is")
	}
}
