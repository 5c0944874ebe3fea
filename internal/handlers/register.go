package handlers

import (
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

// Operation keys for the Go standard library entry points the SDK wraps.
var (
	KeyHTTPDo = hook.Method("http.Client", "Do")

	KeyExecCommand  = hook.Function("exec.Command")
	KeyExecRun      = hook.Method("exec.Cmd", "Run")
	KeyExecOutput   = hook.Method("exec.Cmd", "Output")
	KeyExecCombined = hook.Method("exec.Cmd", "CombinedOutput")
	KeyExecStart    = hook.Method("exec.Cmd", "Start")

	KeyOpen      = hook.Function("os.Open")
	KeyOpenFile  = hook.Function("os.OpenFile")
	KeyCreate    = hook.Function("os.Create")
	KeyReadFile  = hook.Function("os.ReadFile")
	KeyWriteFile = hook.Function("os.WriteFile")
	KeyRemove    = hook.Function("os.Remove")
	KeyRemoveAll = hook.Function("os.RemoveAll")
	KeyMkdir     = hook.Function("os.Mkdir")
	KeyMkdirAll  = hook.Function("os.MkdirAll")
	KeyReadDir   = hook.Function("os.ReadDir")
	KeyStat      = hook.Function("os.Stat")
	KeyChmod     = hook.Function("os.Chmod")
	KeyRename    = hook.Function("os.Rename")
	KeySymlink   = hook.Function("os.Symlink")
	KeyLink      = hook.Function("os.Link")

	KeySQLQuery    = hook.Method("sql.DB", "QueryContext")
	KeySQLQueryRow = hook.Method("sql.DB", "QueryRowContext")
	KeySQLExec     = hook.Method("sql.DB", "ExecContext")
	KeySQLPrepare  = hook.Method("sql.DB", "PrepareContext")
	KeyTxQuery     = hook.Method("sql.Tx", "QueryContext")
	KeyTxExec      = hook.Method("sql.Tx", "ExecContext")

	KeyPluginOpen    = hook.Function("plugin.Open")
	KeyTemplateFiles = hook.Function("template.ParseFiles")
)

// Entries returns the built-in hook table.
func Entries() []hook.HookEntry {
	entries := []hook.HookEntry{
		{Key: KeyHTTPDo, Sink: model.SinkOutgoingHTTP, Pre: OutgoingPre, Post: OutgoingPost},
	}
	for _, k := range []hook.OperationKey{KeyExecCommand, KeyExecRun, KeyExecOutput, KeyExecCombined, KeyExecStart} {
		entries = append(entries, hook.HookEntry{Key: k, Sink: model.SinkShell, Pre: ShellPre})
	}
	for _, k := range []hook.OperationKey{
		KeyOpen, KeyOpenFile, KeyCreate, KeyReadFile, KeyWriteFile, KeyRemove, KeyRemoveAll,
		KeyMkdir, KeyMkdirAll, KeyReadDir, KeyStat, KeyChmod,
	} {
		entries = append(entries, hook.HookEntry{Key: k, Sink: model.SinkFileSystem, Pre: PathPre, Post: PathPost})
	}
	for _, k := range []hook.OperationKey{KeyRename, KeySymlink, KeyLink} {
		entries = append(entries, hook.HookEntry{Key: k, Sink: model.SinkFileSystem, Pre: Path2Pre, Post: PathPost})
	}
	for _, k := range []hook.OperationKey{KeySQLQuery, KeySQLQueryRow, KeySQLExec, KeySQLPrepare, KeyTxQuery, KeyTxExec} {
		entries = append(entries, hook.HookEntry{Key: k, Sink: model.SinkSQL, Pre: SQLPre})
	}
	for _, k := range []hook.OperationKey{KeyPluginOpen, KeyTemplateFiles} {
		entries = append(entries, hook.HookEntry{Key: k, Sink: model.SinkCodeLoad, Pre: CodeLoadPre, Post: CodeLoadPost})
	}
	return entries
}

// RegisterAll adds the built-in hook table to reg.
func RegisterAll(reg *hook.Registry) error {
	for _, e := range Entries() {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
