package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type loggerImp struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

var l *loggerImp

// Init builds the process logger from configuration. Before Init is
// called the package-level helpers fall back to stdout so early startup
// errors are never swallowed.
func Init(name string, config *viper.Viper) {
	l = &loggerImp{}
	l.logger = newLogger(name, config)
	l.sugar = l.logger.Sugar()
	l.sugar.Infof("initialize logger name:%s", name)
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if l != nil {
		_ = l.logger.Sync()
	}
}

func newLogger(name string, config *viper.Viper) *zap.Logger {
	level := config.GetString("logger.level")
	fileDir := config.GetString("logger.dir")
	rotation := config.GetBool("logger.rotation")
	stdout := config.GetBool("logger.stdout")

	zapLevel := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		fmt.Println("Logger level invalid, must be one of: DEBUG, INFO, WARN, or ERROR")
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{}
	if stdout || fileDir == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapLevel))
	}
	if fileDir != "" {
		file := strings.Join([]string{fileDir, "/", name, ".log"}, "")
		var sink zapcore.WriteSyncer
		if rotation {
			sink = zapcore.AddSync(&lumberjack.Logger{
				Filename:   file,
				MaxSize:    config.GetInt("logger.maxsize"),
				MaxBackups: config.GetInt("logger.maxbackups"),
				MaxAge:     config.GetInt("logger.maxage"),
			})
		} else {
			output, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
			if err != nil {
				fmt.Printf("could not create log file %s: %s\n", file, err)
				return zap.New(zapcore.NewTee(cores...))
			}
			sink = zapcore.AddSync(output)
		}
		cores = append(cores, zapcore.NewCore(encoder, sink, zapLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	zap.RedirectStdLog(logger)
	return logger
}

// Debugf logger
func Debugf(format string, args ...interface{}) {
	if l == nil {
		fmt.Printf(fmt.Sprintf("%s\n", format), args...)
		return
	}
	l.sugar.Debugf(format, args...)
}

// Infof logger
func Infof(format string, args ...interface{}) {
	if l == nil {
		fmt.Printf(fmt.Sprintf("%s\n", format), args...)
		return
	}
	l.sugar.Infof(format, args...)
}

// Warnf logger
func Warnf(format string, args ...interface{}) {
	if l == nil {
		fmt.Printf(fmt.Sprintf("%s\n", format), args...)
		return
	}
	l.sugar.Warnf(format, args...)
}

// Errorf logger
func Errorf(format string, args ...interface{}) {
	if l == nil {
		fmt.Printf(fmt.Sprintf("%s\n", format), args...)
		return
	}
	l.sugar.Errorf(format, args...)
}

// Fatalf logger, log message then exit
func Fatalf(format string, args ...interface{}) {
	if l == nil {
		fmt.Printf(fmt.Sprintf("%s\n", format), args...)
		os.Exit(1)
	}
	l.sugar.Fatalf(format, args...)
}

// Info logger with structured fields
func Info(msg string, fields ...zapcore.Field) {
	if l == nil {
		fmt.Println(msg)
		return
	}
	l.logger.Info(msg, fields...)
}

// Warn logger with structured fields
func Warn(msg string, fields ...zapcore.Field) {
	if l == nil {
		fmt.Println(msg, fields)
		return
	}
	l.logger.Warn(msg, fields...)
}

// Error logger with structured fields
func Error(msg string, fields ...zapcore.Field) {
	if l == nil {
		fmt.Println(msg, fields)
		return
	}
	l.logger.Error(msg, fields...)
}
