package daemon_test

import (
	"context"
	"testing"

	"dialqueue/internal/daemon"
	"dialqueue/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Running() {
		t.Fatal("daemon should report running")
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Running {
		t.Fatal("status should report running")
	}
	if status.QueueDBPath == "" {
		t.Fatal("status missing queue db path")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("daemon should report stopped")
	}
}

func TestDaemonSecondStartFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	if err := d.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer first.Close()

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}
	defer second.Close()

	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance should fail to acquire lock")
	}
}
