package audio

// EncodeFrame converts normalized float32 samples to little-endian signed
// 16-bit PCM for wire transmission. Each sample is multiplied by 32767 and
// truncated toward zero; the source is trusted to stay within [-1, 1], so no
// additional clamping or dithering is applied.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM bytes back to int16
// samples. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
