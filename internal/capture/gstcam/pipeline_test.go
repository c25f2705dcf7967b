package gstcam

import "testing"

func TestBuildCaps(t *testing.T) {
	tests := []struct {
		w, h int
		fps  float64
		want string
	}{
		{1280, 720, 30, "video/x-raw,format=RGBA,width=1280,height=720,framerate=30/1"},
		{640, 480, 0.5, "video/x-raw,format=RGBA,width=640,height=480,framerate=1/2"},
		{320, 240, 29.97, "video/x-raw,format=RGBA,width=320,height=240,framerate=29/1"},
	}
	for _, tt := range tests {
		if got := buildCaps(tt.w, tt.h, tt.fps); got != tt.want {
			t.Errorf("buildCaps(%d,%d,%v) = %s, want %s", tt.w, tt.h, tt.fps, got, tt.want)
		}
	}
}
