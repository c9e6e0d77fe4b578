package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "INFO", ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Options задают, куда и с каким уровнем пишут новые логгеры
type Options struct {
	Dir          string // каталог для файлов логов; если пусто, только консоль
	ConsoleLevel LogLevel
	FileLevel    LogLevel
}

var (
	optionsMu      sync.RWMutex
	currentOptions = Options{ConsoleLevel: INFO, FileLevel: DEBUG}
)

// Configure меняет параметры логгеров. Новые уровни сразу действуют и для
// уже созданных логгеров компонентов; каталог только для новых.
func Configure(opts Options) {
	optionsMu.Lock()
	currentOptions = opts
	optionsMu.Unlock()

	Components().apply(opts)
	current().SetLevels(opts.ConsoleLevel, opts.FileLevel)
}

func loadOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOptions
}

// Logger пишет сообщения компонента в консоль и, опционально, в файл
type Logger struct {
	component     string
	consoleLogger *log.Logger
	fileLogger    *log.Logger
	file          *os.File
	consoleLevel  atomic.Int32
	fileLevel     atomic.Int32
}

func newConsoleLogger(component string, out io.Writer, flags int, console, file LogLevel) *Logger {
	l := &Logger{component: component, consoleLogger: log.New(out, "", flags)}
	l.SetLevels(console, file)
	return l
}

// SetLevels меняет пороги консоли и файла; безопасно во время записи
func (l *Logger) SetLevels(console, file LogLevel) {
	l.consoleLevel.Store(int32(console))
	l.fileLevel.Store(int32(file))
}

// Levels возвращает текущие пороги консоли и файла
func (l *Logger) Levels() (console, file LogLevel) {
	return LogLevel(l.consoleLevel.Load()), LogLevel(l.fileLevel.Load())
}

// NewLogger создаёт логгер компонента согласно текущим Options
func NewLogger(component string) (*Logger, error) {
	opts := loadOptions()
	l := newConsoleLogger(component, os.Stdout, log.LstdFlags, opts.ConsoleLevel, opts.FileLevel)

	if opts.Dir == "" {
		return l, nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	l.file = file
	l.fileLogger = log.New(file, "", log.LstdFlags)
	return l, nil
}

// NewWriterLogger создаёт логгер поверх произвольных writer'ов (file может быть nil)
func NewWriterLogger(component string, console, file io.Writer, level LogLevel) *Logger {
	l := newConsoleLogger(component, console, 0, level, level)
	if file != nil {
		l.fileLogger = log.New(file, "", 0)
	}
	return l
}

// Component возвращает имя компонента
func (l *Logger) Component() string { return l.component }

// Close закрывает файл логов, если он открыт
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level, l.component, message)
	} else {
		message = fmt.Sprintf("[%s] %s", level, message)
	}

	if l.fileLogger != nil && int32(level) >= l.fileLevel.Load() {
		l.fileLogger.Println(message)
	}
	if l.consoleLogger != nil && int32(level) >= l.consoleLevel.Load() {
		l.consoleLogger.Println(message)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Логгер процесса по умолчанию, используется package-level функциями
var (
	defaultMu     sync.RWMutex
	defaultLogger = newConsoleLogger("", os.Stdout, log.LstdFlags, INFO, ERROR)
)

// InitDefaultLogger создаёт логгер процесса для указанного компонента
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает файл логгера процесса
func CloseDefaultLogger() {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		l.Close()
	}
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Trace логирует сообщение уровня TRACE
func Trace(format string, args ...interface{}) { current().log(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func Debug(format string, args ...interface{}) { current().log(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func Info(format string, args ...interface{}) { current().log(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func Warn(format string, args ...interface{}) { current().log(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func Error(format string, args ...interface{}) { current().log(ERROR, format, args...) }
