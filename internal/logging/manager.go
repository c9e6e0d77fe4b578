package logging

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Компоненты процесса amrd
const (
	ComponentMesh       = "mesh"
	ComponentServer     = "server"
	ComponentEventBus   = "eventbus"
	ComponentStorage    = "storage"
	ComponentSimulation = "simulation"
)

// Registry хранит по одному логгеру на компонент. Если файл логов компонента
// открыть не удалось, компонент пишет только в консоль, а причина видна в Status.
type Registry struct {
	mu       sync.Mutex
	loggers  map[string]*Logger
	degraded map[string]error
}

// ComponentStatus: состояние логгера компонента для админ-API
type ComponentStatus struct {
	Component    string `json:"component"`
	ConsoleLevel string `json:"console_level"`
	FileLevel    string `json:"file_level"`
	ToFile       bool   `json:"to_file"`
	FileError    string `json:"file_error,omitempty"`
}

func newRegistry() *Registry {
	return &Registry{
		loggers:  make(map[string]*Logger),
		degraded: make(map[string]error),
	}
}

var components = newRegistry()

// Components возвращает реестр логгеров процесса
func Components() *Registry { return components }

// Logger возвращает логгер компонента, создавая его при первом обращении
func (r *Registry) Logger(component string) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loggers[component]; ok {
		return l
	}

	l, err := NewLogger(component)
	if err != nil {
		opts := loadOptions()
		l = newConsoleLogger(component, os.Stdout, log.LstdFlags, opts.ConsoleLevel, opts.FileLevel)
		r.degraded[component] = err
		l.Warn("⚠️ Логи компонента пишутся только в консоль: %v", err)
	}
	r.loggers[component] = l
	return l
}

// apply переносит новые уровни на все созданные логгеры
func (r *Registry) apply(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.loggers {
		l.SetLevels(opts.ConsoleLevel, opts.FileLevel)
	}
}

// Status возвращает состояние логгеров, отсортированное по имени компонента
func (r *Registry) Status() []ComponentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ComponentStatus, 0, len(r.loggers))
	for name, l := range r.loggers {
		console, file := l.Levels()
		st := ComponentStatus{
			Component:    name,
			ConsoleLevel: console.String(),
			FileLevel:    file.String(),
			ToFile:       l.fileLogger != nil,
		}
		if err := r.degraded[name]; err != nil {
			st.FileError = err.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// CloseAll закрывает файлы всех компонентов и очищает реестр
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, l := range r.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s log: %w", name, err))
		}
	}
	r.loggers = make(map[string]*Logger)
	r.degraded = make(map[string]error)
	return errors.Join(errs...)
}

// GetComponentLogger возвращает логгер компонента из реестра процесса
func GetComponentLogger(component string) *Logger {
	return components.Logger(component)
}

func GetMeshLogger() *Logger       { return GetComponentLogger(ComponentMesh) }
func GetServerLogger() *Logger     { return GetComponentLogger(ComponentServer) }
func GetEventBusLogger() *Logger   { return GetComponentLogger(ComponentEventBus) }
func GetStorageLogger() *Logger    { return GetComponentLogger(ComponentStorage) }
func GetSimulationLogger() *Logger { return GetComponentLogger(ComponentSimulation) }
