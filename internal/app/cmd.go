package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はセッション掃除のスケジューラを起動する。
	CommandWorker Command = "worker"
	// CommandSweep は期限切れセッションの削除を1回だけ実行して終了する。
	// 外部のcronやKubernetes CronJobから実行する場合に使う。
	CommandSweep Command = "sweep"
	// CommandMigrate はデータベースマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIサーバーの/healthを確認する。
	// distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandSweep):       CommandSweep,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを解析する。
// 引数なしはCommandServe。未知のサブコマンドはokがfalseになる。
func ParseCommand(args []string) (cmd Command, ok bool) {
	if len(args) == 0 {
		return CommandServe, true
	}
	cmd, ok = commands[args[0]]
	return cmd, ok
}
