package logflags

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func HTTPLogger() Logger {
	return makeLogger(http, "http")
}

func GRPCLogger() Logger {
	return makeLogger(grpc, "grpc")
}

func MemoryLogger() Logger {
	return makeLogger(memory, "memory")
}

func IndexLogger() Logger {
	return makeLogger(index, "index")
}

func ScanLogger() Logger {
	return makeLogger(scan, "scan")
}

func AnalysisLogger() Logger {
	return makeLogger(analysis, "analysis")
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return zap.NewNop().Sugar()
}

func makeLogger(flag bool, component string) Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:      "timestamp",
		LevelKey:     "level",
		NameKey:      "component",
		MessageKey:   "message",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
		EncodeName:   zapcore.FullNameEncoder,
	}

	level := zapcore.ErrorLevel
	if flag {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(zapcore.AddSync(logOut)),
		level,
	)

	return zap.New(core, zap.AddCaller()).Named(component).Sugar()
}
