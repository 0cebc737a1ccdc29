package app

import (
	"flag"
	"fmt"
	"io"

	"github.com/hitoshi/biblioteca/internal/worker/refresh"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandSync は同期パイプラインを1回だけ実行して終了することを示す。
	CommandSync Command = "sync"
	// CommandWorker は定期同期のワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "sync":
		return CommandSync
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseSyncOptions はsyncサブコマンドのフラグを解析する。
// argsにはサブコマンド名より後ろの引数を渡す。
//
//	sync [--force] [--no-enrich]
func ParseSyncOptions(args []string) (refresh.Options, error) {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "鮮度ウィンドウ内でも同期を実行する")
	noEnrich := fs.Bool("no-enrich", false, "ストア詳細による補完を行わない")

	if err := fs.Parse(args); err != nil {
		return refresh.Options{}, fmt.Errorf("invalid sync flags: %w", err)
	}
	if fs.NArg() > 0 {
		return refresh.Options{}, fmt.Errorf("unexpected sync arguments: %v", fs.Args())
	}
	return refresh.Options{Force: *force, Enrich: !*noEnrich}, nil
}
