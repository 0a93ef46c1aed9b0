package capture

import (
	"context"
	"testing"
	"time"

	"weekcal/internal/config"
)

func TestPagePNGRequiresURLAndOutput(t *testing.T) {
	if err := PagePNG(context.Background(), Options{OutputPath: "x.png"}); err == nil {
		t.Error("expected error without URL")
	}
	if err := PagePNG(context.Background(), Options{URL: "http://127.0.0.1/"}); err == nil {
		t.Error("expected error without output path")
	}
}

func TestFromConfigDefaults(t *testing.T) {
	opts, err := FromConfig(config.CaptureConfig{Output: "out.png"}, "http://127.0.0.1:8080/").normalized()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Width != DefaultWidth || opts.Height != DefaultHeight {
		t.Errorf("viewport = %dx%d", opts.Width, opts.Height)
	}
	if opts.Timeout != DefaultTimeoutSec*time.Second {
		t.Errorf("timeout = %v", opts.Timeout)
	}

	opts, _ = FromConfig(config.DefaultConfig().Capture, "http://127.0.0.1:8080/").normalized()
	if opts.Width != 1280 || opts.Height != 800 || opts.OutputPath != "./cache/preview.png" {
		t.Errorf("config options = %+v", opts)
	}
}
