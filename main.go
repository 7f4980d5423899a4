package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/moetran/companion/internal/api"
	"github.com/moetran/companion/internal/config"
	"github.com/moetran/companion/internal/imagecache"
	"github.com/moetran/companion/internal/logging"
	"github.com/moetran/companion/internal/server"
	"github.com/moetran/companion/internal/storage"
	"github.com/moetran/companion/internal/token"
	"github.com/moetran/companion/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["data_dir"] = cfg.DataDir
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化本地存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	tokens := token.NewManager(store)
	// 启动时预热 token 缓存，后续请求头可以同步取值。
	for _, name := range []string{token.NameMoetran, token.NamePoprako} {
		if _, err := tokens.Get(context.Background(), name); err != nil {
			logger.WithField("error", err.Error()).Warn("token 预热失败")
		}
	}

	httpClient := api.NewHTTPClient(cfg.RequestTimeout.DurationValue())

	moetranClient, err := api.NewClient(cfg.MoetranAPIBase, httpClient, logger, api.MoetranDefaultHeaders(), func() string {
		return tokens.Cached(token.NameMoetran)
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 Moetran 客户端失败: %v\n", err)
		return 1
	}

	poprakoClient, err := api.NewClient(cfg.PoprakoAPIBase, httpClient, logger, api.PoprakoDefaultHeaders(), func() string {
		return tokens.Cached(token.NamePoprako)
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 Poprako 客户端失败: %v\n", err)
		return 1
	}

	moetran := api.NewMoetran(moetranClient)
	poprako := api.NewPoprako(poprakoClient)

	// 图片下载复用 Moetran 客户端的超时与请求头，凭证随缓存的 token 走。
	cacheManager := imagecache.NewManager(cfg.ImageCacheRoot(), moetranClient.FetchBytes, store, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.ListenPort
	fields["data_dir"] = cfg.DataDir
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, logger, moetran, poprako, tokens, cacheManager); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("moetran-companion", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MOETRAN_COMPANION_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MOETRAN_COMPANION_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger, moetran *api.Moetran, poprako *api.Poprako, tokens *token.Manager, cache *imagecache.Manager) error {
	app, err := server.NewApp(server.Options{
		Logger:  logger,
		Moetran: moetran,
		Poprako: poprako,
		Tokens:  tokens,
		Cache:   cache,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.ListenPort,
	}).Info("Fiber 服务启动")

	// 只监听回环地址，命令面不对外暴露。
	return app.Listen(fmt.Sprintf("127.0.0.1:%d", cfg.ListenPort))
}
