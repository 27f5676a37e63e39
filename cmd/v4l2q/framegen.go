//go:build linux && (amd64 || arm64)

package main

// fillRGBGradient writes one frame of an RGB gradient into buf, laid out
// as packed 3-byte pixels with the given row stride. The frame number
// shifts the gradient so consecutive frames differ.
func fillRGBGradient(buf []byte, width, height, stride uint32, frame int) {
	shift := uint32(frame) * 3
	for y := uint32(0); y < height; y++ {
		rowStart := y * stride
		if int(rowStart) >= len(buf) {
			return
		}
		row := buf[rowStart:]
		for x := uint32(0); x < width; x++ {
			off := int(x) * 3
			if off+2 >= len(row) {
				break
			}
			row[off] = byte(x + shift)
			row[off+1] = byte(y + shift)
			row[off+2] = byte(x + y)
		}
	}
}
