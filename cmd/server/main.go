package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/tiernet/internal/app"
	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiGreen     = "\033[32m"
	ansiBlue      = "\033[34m"
	ansiCyan      = "\033[36m"
	ansiBrightMag = "\033[95m"
)

func main() {
	var modeFlag string
	flag.StringVar(&modeFlag, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()
	mode, err := app.ParseMode(modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	printStartupBanner()

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()
	stdLog := logger.StdLogger()

	if cfg.Server.Mode == "release" {
		if isWeakSecret(cfg.Session.Secret) {
			stdLog.Fatalf("会话签名密钥过弱或仍为默认值，请在生产环境中配置强随机密钥")
		}
	} else if isWeakSecret(cfg.Session.Secret) {
		stdLog.Printf("警告: 会话签名密钥过弱或仍为默认值，建议在生产环境中更换")
	}

	// 初始化数据库并自动迁移
	db, err := app.OpenDatabase(cfg)
	if err != nil {
		stdLog.Fatalf("%v", err)
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}, db); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner() {
	fmt.Println(ansiBrightMag + "╔══════════════════════════════════════════════════════════════╗" + ansiReset)
	fmt.Println(ansiBrightMag + "║                    Tiernet API 启动中                        ║" + ansiReset)
	fmt.Println(ansiBrightMag + "╚══════════════════════════════════════════════════════════════╝" + ansiReset)
	fmt.Println(ansiCyan + "████████╗██╗███████╗██████╗ ███╗   ██╗███████╗████████╗" + ansiReset)
	fmt.Println(ansiCyan + "╚══██╔══╝██║██╔════╝██╔══██╗████╗  ██║██╔════╝╚══██╔══╝" + ansiReset)
	fmt.Println(ansiCyan + "   ██║   ██║█████╗  ██████╔╝██╔██╗ ██║█████╗     ██║   " + ansiReset)
	fmt.Println(ansiCyan + "   ██║   ██║██╔══╝  ██╔══██╗██║╚██╗██║██╔══╝     ██║   " + ansiReset)
	fmt.Println(ansiCyan + "   ██║   ██║███████╗██║  ██║██║ ╚████║███████╗   ██║   " + ansiReset)
	fmt.Println(ansiCyan + "   ╚═╝   ╚═╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═══╝╚══════╝   ╚═╝   " + ansiReset)
	fmt.Println(ansiGreen + ansiBold + "Multi-level commission and ranking engine" + ansiReset)
	fmt.Println(ansiBlue + "• Modes:   all | api | worker" + ansiReset)
	fmt.Println(ansiBlue + "• Metrics: /metrics    Health: /health" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
