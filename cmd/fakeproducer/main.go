// Command fakeproducer emits a synthetic MJPEG stream on stdout, behaving
// like the capture encoder the server normally launches: frames at a fixed
// rate, exit on 'q' or stdin close. Useful for running the server without a
// display to capture.
package main

import (
	"bufio"
	"flag"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"time"
)

func main() {
	rate := flag.Int("rate", 15, "frames per second")
	count := flag.Int("count", 0, "number of frames to emit, 0 for unlimited")
	width := flag.Int("width", 640, "frame width in pixels")
	height := flag.Int("height", 360, "frame height in pixels")
	quality := flag.Int("quality", 75, "JPEG quality")
	flag.Parse()

	quit := make(chan struct{})
	go watchStdin(quit)

	out := bufio.NewWriter(os.Stdout)
	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	for n := 0; *count == 0 || n < *count; n++ {
		img := gradientFrame(*width, *height, n)
		if err := jpeg.Encode(out, img, &jpeg.Options{Quality: *quality}); err != nil {
			slog.Error("encode frame", "err", err)
			os.Exit(1)
		}
		if err := out.Flush(); err != nil {
			// Reader went away; nothing left to do.
			return
		}
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
	}
}

// watchStdin closes quit when the controlling process sends the quit
// keystroke or closes our stdin.
func watchStdin(quit chan<- struct{}) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 && buf[0] == 'q' {
			close(quit)
			return
		}
		if err != nil {
			close(quit)
			return
		}
	}
}

// gradientFrame renders a moving diagonal gradient so consecutive frames
// differ visibly.
func gradientFrame(w, h, n int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := n * 4
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y + shift) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(255 - v), B: uint8(shift % 256), A: 255})
		}
	}
	return img
}
