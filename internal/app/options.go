package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/constants"
	"github.com/discount-system/internal/logger"

	"go.uber.org/zap"
)

// 启动模式
const (
	ModeAll    = constants.RunModeAll
	ModeAPI    = constants.RunModeAPI
	ModeWorker = constants.RunModeWorker
)

// Options 应用启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

// ParseMode 解析启动模式，空值视为 all
func ParseMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case "":
		return ModeAll, nil
	case ModeAll, ModeAPI, ModeWorker:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown run mode %q (want %s, %s or %s)", raw, ModeAll, ModeAPI, ModeWorker)
	}
}

// normalizeOptions 补齐默认参数，关停时长优先取 server 配置
func normalizeOptions(opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = logger.S()
	}
	if opts.ShutdownTimeout <= 0 {
		if opts.Config != nil {
			opts.ShutdownTimeout = opts.Config.Server.ShutdownTimeout()
		} else {
			opts.ShutdownTimeout = 10 * time.Second
		}
	}
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	return opts
}
