package format

import "fmt"

// Tag identifies a recognized format family.
type Tag uint8

const (
	TagUnknown Tag = iota
	TagExecutable
	TagPAK
	TagWAD
	TagBSP
	TagVBSP
	TagGCF
	TagNCF
	TagVPK
	TagXZP
	TagInstallShieldCAB
	TagSGA
	TagPlayJAudio
	TagPlayJPlaylist
	TagPFF
	TagSFFS
	TagAACS
	TagMSCAB
	TagSZDD
	TagBZip2
	TagGZip
	TagZIP

	// Section markers. They are found in executable section tables and
	// have no parser of their own.
	TagRenderWare
	TagUPX
	TagSecuROM
	TagSafeDisc
	TagStarForce
	TagThemida
)

var tagNames = [...]string{
	TagUnknown:          "unknown",
	TagExecutable:       "executable",
	TagPAK:              "pak",
	TagWAD:              "wad3",
	TagBSP:              "bsp",
	TagVBSP:             "vbsp",
	TagGCF:              "gcf",
	TagNCF:              "ncf",
	TagVPK:              "vpk",
	TagXZP:              "xzp",
	TagInstallShieldCAB: "iscab",
	TagSGA:              "sga",
	TagPlayJAudio:       "playj-audio",
	TagPlayJPlaylist:    "playj-playlist",
	TagPFF:              "pff",
	TagSFFS:             "sffs",
	TagAACS:             "aacs-mkb",
	TagMSCAB:            "mscab",
	TagSZDD:             "szdd",
	TagBZip2:            "bzip2",
	TagGZip:             "gzip",
	TagZIP:              "zip",
	TagRenderWare:       "renderware",
	TagUPX:              "upx",
	TagSecuROM:          "securom",
	TagSafeDisc:         "safedisc",
	TagStarForce:        "starforce",
	TagThemida:          "themida",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) && tagNames[t] != "" {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Marker reports whether t only marks an executable section.
func (t Tag) Marker() bool { return t >= TagRenderWare }

// Method is the encoding of an extractable stream.
type Method uint8

const (
	MethodStored Method = iota
	MethodDeflate
	MethodZlib
	MethodGzip
	MethodMSZIP
	MethodQuantum
	MethodLZX
	MethodBZip2
	MethodSZDD
	// MethodISChunks is InstallShield's sequence of u16-length-prefixed raw
	// deflate chunks.
	MethodISChunks
)

func (m Method) String() string {
	switch m {
	case MethodStored:
		return "stored"
	case MethodDeflate:
		return "deflate"
	case MethodZlib:
		return "zlib"
	case MethodGzip:
		return "gzip"
	case MethodMSZIP:
		return "mszip"
	case MethodQuantum:
		return "quantum"
	case MethodLZX:
		return "lzx"
	case MethodBZip2:
		return "bzip2"
	case MethodSZDD:
		return "szdd"
	case MethodISChunks:
		return "is-chunks"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}
