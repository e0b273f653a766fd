package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/mattjoyce/sensus-gw/internal/log"
	"github.com/mattjoyce/sensus-gw/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type fakePlugin struct {
	name    string
	stopped atomic.Bool
}

func (p *fakePlugin) OnMessage(_ context.Context, c Conn, m protocol.Message) error {
	return c.WriteJSON(protocol.OK(p.name + ":" + m.Method))
}

func (p *fakePlugin) Stop(context.Context) error {
	p.stopped.Store(true)
	return nil
}

type fakeReceiver struct {
	fakePlugin
}

func (p *fakeReceiver) ReceiveWebhook(_ context.Context, w Webhook) (any, error) {
	return map[string]any{"bytes": len(w.Body)}, nil
}

// layout creates folder and file locations under a temp dir.
func layout(t *testing.T) (folderDir, fileDir string) {
	t.Helper()
	root := t.TempDir()
	folderDir = filepath.Join(root, "plugins")
	fileDir = filepath.Join(folderDir, "example")
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return folderDir, fileDir
}

func writeFolderUnit(t *testing.T, folderDir, dir, body string) {
	t.Helper()
	path := filepath.Join(folderDir, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, folderEntry), []byte(body), 0o644); err != nil {
		t.Fatalf("write unit: %v", err)
	}
}

func writeFileUnit(t *testing.T, fileDir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(fileDir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write unit: %v", err)
	}
}
