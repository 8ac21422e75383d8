package envconfig

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":               {"", "127.0.0.1:8765"},
		"only address":        {"1.2.3.4", "1.2.3.4:8765"},
		"only port":           {":1234", ":1234"},
		"address and port":    {"1.2.3.4:1234", "1.2.3.4:1234"},
		"hostname":            {"example.com", "example.com:8765"},
		"hostname and port":   {"example.com:1234", "example.com:1234"},
		"zero port":           {":0", ":0"},
		"too large port":      {":66000", ":8765"},
		"too small port":      {":-1", ":8765"},
		"ipv6 localhost":      {"[::1]", "[::1]:8765"},
		"ipv6 and port":       {"[::1]:1337", "[::1]:1337"},
		"extra quotes":        {"\"1.2.3.4\"", "1.2.3.4:8765"},
		"extra space+quotes":  {" \" 1.2.3.4 \" ", "1.2.3.4:8765"},
		"extra single quotes": {"'1.2.3.4'", "1.2.3.4:8765"},
		"http":                {"http://1.2.3.4", "1.2.3.4:80"},
		"https":               {"https://1.2.3.4", "1.2.3.4:443"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TIO_HOST", tt.value)
			if host := Host(); host.Host != tt.expect {
				t.Errorf("%s: erwartet %s, bekommen %s", name, tt.expect, host.Host)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	t.Setenv("TIO_ORIGINS", "http://10.0.0.1,app://*")
	origins := AllowedOrigins()

	if diff := cmp.Diff([]string{"http://10.0.0.1", "app://*"}, origins[:2]); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if len(origins) != 2+3*4 {
		t.Errorf("erwartet %d Origins, bekommen %d", 2+3*4, len(origins))
	}
}

func TestEngine(t *testing.T) {
	t.Setenv("TIO_ENGINE", "")
	if got := Engine(); got != "reference" {
		t.Errorf("erwartet reference, bekommen %s", got)
	}

	t.Setenv("TIO_ENGINE", "onnx")
	if got := Engine(); got != "onnx" {
		t.Errorf("erwartet onnx, bekommen %s", got)
	}
}

func TestUint(t *testing.T) {
	cases := map[string]uint{
		"0":    0,
		"1":    1,
		"1337": 1337,
		"-1":   1,
		"abc":  1,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TIO_NUM_PARALLEL", k)
			if got := NumParallel(); got != v {
				t.Errorf("%s: erwartet %d, bekommen %d", k, v, got)
			}
		})
	}
}

func TestPreload(t *testing.T) {
	t.Setenv("TIO_PRELOAD", " a/bundle , b:train,, ")
	if diff := cmp.Diff([]string{"a/bundle", "b:train"}, Preload()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	t.Setenv("TIO_PRELOAD", "")
	if got := Preload(); got != nil {
		t.Errorf("nil erwartet, bekommen %v", got)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"f":     slog.LevelInfo,
		"0":     slog.LevelInfo,
		"true":  slog.LevelDebug,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TIO_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: erwartet %s, bekommen %s", k, v, i)
			}
		})
	}
}

func TestModels(t *testing.T) {
	t.Setenv("TIO_MODELS", "/srv/bundles")
	if got := Models(); got != "/srv/bundles" {
		t.Errorf("erwartet /srv/bundles, bekommen %s", got)
	}
}
