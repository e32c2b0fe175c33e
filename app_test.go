package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/toverwu-qaq/opentypeless/internal/capsule"
	"github.com/toverwu-qaq/opentypeless/internal/gesture"
	"github.com/toverwu-qaq/opentypeless/internal/logging"
)

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp(logging.Nop())
	if err := app.requireReady(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestBoundMethodsBeforeStartup(t *testing.T) {
	t.Parallel()

	app := NewApp(logging.Nop())

	if err := app.PointerDown(0, 1, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from PointerDown, got %v", err)
	}
	if app.PointerMove(50, 50) {
		t.Fatalf("expected no drag before startup")
	}
	action, err := app.PointerUp(0)
	if !errors.Is(err, ErrNotReady) || action != string(gesture.ActionNone) {
		t.Fatalf("unexpected PointerUp result: %q %v", action, err)
	}
	if err := app.ContextMenu(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from ContextMenu, got %v", err)
	}
	if err := app.SelectMenuItem(gesture.ItemSettings); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from SelectMenuItem, got %v", err)
	}
	if err := app.Cancel(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from Cancel, got %v", err)
	}
	if got := len(app.MenuItems()); got != 6 {
		t.Fatalf("expected 6 menu items, got %d", got)
	}
}

func TestViewWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp(logging.Nop())
	if view := app.View(); view.Variant != capsule.VariantIdle {
		t.Fatalf("unexpected view: %+v", view)
	}

	app.bootErr = errors.New("backend url is not configured")
	view := app.View()
	if view.Variant != capsule.VariantError || view.Text != "backend url is not configured" {
		t.Fatalf("unexpected boot view: %+v", view)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "backend url is not configured" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
}

func TestGuardRecoversRuntimePanic(t *testing.T) {
	t.Parallel()

	call := func() (err error) {
		defer guard("window set size", &err)
		panic("invalid context")
	}

	err := call()
	if err == nil || !strings.Contains(err.Error(), "window set size: runtime panic: invalid context") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGuardKeepsReturnedError(t *testing.T) {
	t.Parallel()

	want := errors.New("no screens")
	call := func() (err error) {
		defer guard("current monitor", &err)
		return want
	}

	if err := call(); !errors.Is(err, want) {
		t.Fatalf("expected returned error, got %v", err)
	}
}

func TestFrontendStartsNativeDragOnThreshold(t *testing.T) {
	t.Parallel()

	page, err := assets.ReadFile("frontend/dist/index.html")
	if err != nil {
		t.Fatalf("read embedded frontend: %v", err)
	}
	html := string(page)

	if !strings.Contains(html, `EventsOn("`+eventStartDrag+`", () => window.WailsInvoke("drag"))`) {
		t.Fatalf("start-drag event does not invoke the native drag")
	}
	// A draggable CSS property would be picked up on the next mousedown and
	// start an OS drag before the click threshold.
	if strings.Contains(html, "--wails-draggable") {
		t.Fatalf("frontend must not mark the capsule draggable")
	}
}

func TestFrontendKeepsCapsuleBesideMenu(t *testing.T) {
	t.Parallel()

	page, err := assets.ReadFile("frontend/dist/index.html")
	if err != nil {
		t.Fatalf("read embedded frontend: %v", err)
	}
	html := string(page)

	if strings.Contains(html, "capsule.style.display") {
		t.Fatalf("capsule visibility must not depend on the menu")
	}
	if !strings.Contains(html, `menu.style.left = (24 + shell.width + 8) + "px"`) {
		t.Fatalf("menu is not offset past the capsule")
	}
}
