package biblioteca_test

import (
	"os"
	"strings"
	"testing"
)

// readRepoFile はリポジトリルートのファイルを読み込む。存在しない場合はテストを失敗させる。
func readRepoFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("%s should exist: %v", name, err)
	}
	return string(data)
}

func TestDockerfileHealthcheckUsesSubcommand(t *testing.T) {
	content := readRepoFile(t, "Dockerfile")

	// バイナリ自身のhealthcheckサブコマンドで確認すること
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should invoke the 'healthcheck' subcommand")
	}
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readRepoFile(t, "Dockerfile")

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	lines := strings.Split(content, "\n")
	var lastFrom string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image (distroless/alpine/scratch), got: %s", lastFrom)
	}
}

func TestDockerfileBinaryName(t *testing.T) {
	content := readRepoFile(t, "Dockerfile")

	// バイナリ名がbibliotecaであること
	if !strings.Contains(content, "-o /out/biblioteca ./cmd/biblioteca") {
		t.Error("Dockerfile should build a binary named 'biblioteca' from ./cmd/biblioteca")
	}
}

func TestDockerfileEntrypoint(t *testing.T) {
	content := readRepoFile(t, "Dockerfile")

	// ENTRYPOINTまたはCMDでbibliotecaバイナリを起動すること
	if !strings.Contains(content, "ENTRYPOINT") && !strings.Contains(content, "CMD") {
		t.Error("Dockerfile should contain ENTRYPOINT or CMD")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")

	// api, worker, db とマイグレーション用の1回限りのコンテナ
	requiredServices := []string{"api:", "worker:", "db:", "migrate:"}
	for _, svc := range requiredServices {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
}

func TestDockerComposePostgres(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")

	// PostgreSQLイメージを使用していること
	if !strings.Contains(content, "postgres:") {
		t.Error("docker-compose.yml should use PostgreSQL image")
	}
}

func TestDockerComposeWorkerCommand(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")

	// workerサービスがworkerサブコマンドで起動すること
	if !strings.Contains(content, `command: ["worker"]`) {
		t.Error("docker-compose.yml worker service should use 'worker' subcommand")
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")

	// ネットワーク設定が存在すること（egress制限用）
	if !strings.Contains(content, "networks:") {
		t.Error("docker-compose.yml should define networks for egress control")
	}

	// 内部ネットワークの定義（internal: true）
	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true) for egress restriction")
	}
}

func TestDockerComposeHasExternalNetwork(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")

	// Steam APIへ通信するコンテナ用の"external"ネットワークの定義が存在すること
	if !strings.Contains(content, "external") {
		t.Error("docker-compose.yml should define an external network for worker egress")
	}
}

func TestDockerComposeSharesSnapshotVolume(t *testing.T) {
	content := readRepoFile(t, "docker-compose.yml")

	// apiとworkerが同じfileblobバケットにスナップショットを読み書きすること
	if strings.Count(content, "SNAPSHOT_BUCKET_URL: file:///var/lib/biblioteca/snapshots") != 2 {
		t.Error("api and worker should share the same snapshot bucket URL")
	}
}
