//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall/js"
	"time"

	"pushguard/src/internal/guard"
)

const defaultReportURL = "/_guard/blocked"

// options reads window.pushguardConfig, when the page defines one.
func options() (guard.Options, string) {
	opts := guard.DefaultOptions()
	report := defaultReportURL

	cfg := js.Global().Get("pushguardConfig")
	if cfg.IsUndefined() || cfg.IsNull() {
		return opts, report
	}
	if v := cfg.Get("settleDelayMs"); v.Type() == js.TypeNumber {
		opts.SettleDelay = time.Duration(v.Int()) * time.Millisecond
	}
	if v := cfg.Get("deleteMessage"); v.Type() == js.TypeString {
		opts.DeleteMessage = v.String()
	}
	if v := cfg.Get("editMessage"); v.Type() == js.TypeString {
		opts.EditMessage = v.String()
	}
	if v := cfg.Get("reportURL"); v.Type() == js.TypeString {
		report = v.String()
	}
	return opts, report
}

// reportBlock tells the dev server about a blocked click. Pages not served
// by pushguard simply answer 404.
func reportBlock(url string, b guard.Block) {
	body, _ := json.Marshal(map[string]string{
		"intent": b.Intent.String(),
		"id":     b.ID,
		"reason": fmt.Sprint(b.Err),
	})
	go func() {
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			slog.Debug("block report failed", "error", err)
			return
		}
		resp.Body.Close()
	}()
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	opts, reportURL := options()
	doc := newDocument(js.Global().Get("document"))
	alert := guard.AlertFunc(func(msg string) {
		js.Global().Call("alert", msg)
	})

	inst := guard.NewInstaller(doc, alert, opts, nil)
	if reportURL != "" {
		inst.OnBlock(func(b guard.Block) { reportBlock(reportURL, b) })
	}

	js.Global().Set("pushguardScan", js.FuncOf(func(this js.Value, args []js.Value) any {
		return inst.Scan()
	}))

	fmt.Println("pushguard click guard initialized")
	guard.NewWatcher(doc, inst, opts.RetryDelay, nil).Run(context.Background())
}
