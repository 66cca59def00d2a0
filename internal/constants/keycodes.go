package constants

// Android input keycodes sent through "input keyevent".
const (
	KeycodeMediaPlay      = 126
	KeycodeMediaPause     = 127
	KeycodeMediaStop      = 86
	KeycodeMediaPlayPause = 85
	KeycodeMediaNext      = 87
	KeycodeMediaPrevious  = 88

	KeycodeVolumeUp   = 24
	KeycodeVolumeDown = 25
	KeycodeVolumeMute = 164

	KeycodePower  = 26
	KeycodeWakeup = 224
	KeycodeSleep  = 223

	KeycodeDpadUp     = 19
	KeycodeDpadDown   = 20
	KeycodeDpadLeft   = 21
	KeycodeDpadRight  = 22
	KeycodeDpadCenter = 23
	KeycodeBack       = 4
	KeycodeHome       = 3
	KeycodeMenu       = 82
)
