package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{"trace": TRACE, "DEBUG": DEBUG, "": INFO, "warning": WARN, "error": ERROR}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestWriterLoggerLevels(t *testing.T) {
	var console, file bytes.Buffer
	l := NewWriterLogger("mesh", &console, &file, INFO)

	l.Debug("скрыто")
	l.Info("блок %s уточнён", "r.1")
	l.Error("сбой")

	out := console.String()
	assert.NotContains(t, out, "скрыто")
	assert.Contains(t, out, "[INFO] [mesh] блок r.1 уточнён")
	assert.Contains(t, out, "[ERROR] [mesh] сбой")
	assert.Equal(t, out, file.String())
}

func TestRegistryReusesAndReconfigures(t *testing.T) {
	Configure(Options{Dir: t.TempDir(), ConsoleLevel: ERROR, FileLevel: DEBUG})
	defer Configure(Options{ConsoleLevel: INFO, FileLevel: DEBUG})

	r := newRegistry()
	a := r.Logger(ComponentStorage)
	assert.Same(t, a, r.Logger(ComponentStorage))
	a.Info("запись в файл")

	r.apply(Options{ConsoleLevel: WARN, FileLevel: WARN})
	console, file := a.Levels()
	assert.Equal(t, WARN, console)
	assert.Equal(t, WARN, file)

	status := r.Status()
	require.Len(t, status, 1)
	assert.Equal(t, ComponentStatus{Component: "storage", ConsoleLevel: "WARN", FileLevel: "WARN", ToFile: true}, status[0])

	require.NoError(t, r.CloseAll())
	assert.Empty(t, r.Status())
}

func TestRegistryFallsBackToConsole(t *testing.T) {
	// Каталог логов указывает на обычный файл: MkdirAll завершится ошибкой
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	Configure(Options{Dir: blocker, ConsoleLevel: ERROR, FileLevel: DEBUG})
	defer Configure(Options{ConsoleLevel: INFO, FileLevel: DEBUG})

	r := newRegistry()
	l := r.Logger(ComponentMesh)
	require.NotNil(t, l)
	l.Error("пишем только в консоль")

	status := r.Status()
	require.Len(t, status, 1)
	assert.False(t, status[0].ToFile)
	assert.NotEmpty(t, status[0].FileError)
	assert.Equal(t, "ERROR", status[0].ConsoleLevel)
}

func TestPackageLevelFallback(t *testing.T) {
	// Без InitDefaultLogger функции пакета не должны паниковать
	Info("проверка %d", 1)
	Debug("%s", strings.Repeat("x", 3))
}
