package dma

import (
	"math/bits"

	"ebilcd/hw/hwio"
)

// GDMA command-link header bits. Each set bit (but REGCLEAR) is followed by
// one payload word, in bit order.
const (
	GDMARegClear   = 1 << 0
	GDMAIntrEn     = 1 << 2
	GDMACtrl       = 1 << 3
	GDMASrcAddr    = 1 << 4
	GDMASrcAddrHi  = 1 << 5
	GDMADesAddr    = 1 << 6
	GDMADesAddrHi  = 1 << 7
	GDMAXSize      = 1 << 8
	GDMAXSizeHi    = 1 << 9
	GDMAXAddrInc   = 1 << 12
	GDMAYAddrStr   = 1 << 13
	GDMAFillVal    = 1 << 14
	GDMAYSize      = 1 << 15
	GDMALinkAttr   = 1 << 28
	GDMAAutoCfg    = 1 << 29
	GDMALinkAddr   = 1 << 30
	GDMALinkAddrHi = 1 << 31

	gdmaNoPayload = GDMARegClear | 1<<1
)

// GDMAFieldNames names the header bits, for descriptor dumps.
var GDMAFieldNames = [32]string{
	0: "REGCLEAR_SET", 2: "INTREN_SET", 3: "CTRL_SET", 4: "SRC_ADDR_SET",
	5: "SRC_ADDRHI_SET", 6: "DES_ADDR_SET", 7: "DES_ADDRHI_SET", 8: "XSIZE_SET",
	9: "XSIZEHI_SET", 10: "SRCTRANSCFG_SET", 11: "DESTRANSCFG_SET", 12: "XADDRINC_SET",
	13: "YADDRSTRIDE_SET", 14: "FILLVAL_SET", 15: "YSIZE_SET", 16: "TMPLTCFG_SET",
	17: "SRCTMPLT_SET", 18: "DESTMPLT_SET", 19: "SRCTRIGINCFG_SET", 20: "DESTRIGINCFG_SET",
	21: "TRIGOUTCFG_SET", 22: "GPOEN0_SET", 24: "GPOVAL0_SET", 26: "STREAMINTCFG_SET",
	28: "LINKATTR_SET", 29: "AUTOCFG_SET", 30: "LINKADDR_SET", 31: "LINKADDRHI_SET",
}

// Payload word encodings.
const (
	gdmaIntrEnDone = 1 << 0

	gdmaCtrlTranSizePos = 0 // [2:0]
	gdmaCtrlTranSizeLen = 3
	gdmaCtrlXTypePos    = 9 // [11:9]
	gdmaCtrlXTypeLen    = 3
	gdmaCtrlYTypePos    = 12 // [14:12]
	gdmaCtrlYTypeLen    = 3

	gdmaTranSize16  = 1
	gdmaXTypeCont   = 1
	gdmaYTypeDisabl = 0

	gdmaLinkAddrEn  = 1 << 0
	gdmaLinkAddrMsk = 0xFFFFFFFC
)

// gdmaHeader is the set of fields every descriptor of the ring carries.
const gdmaHeader = GDMARegClear | GDMAIntrEn | GDMACtrl | GDMASrcAddr | GDMADesAddr |
	GDMAXSize | GDMAXAddrInc | GDMALinkAddr

const gdmaCmdBufWords = 16

// GDMA is the encoder of the general purpose DMA controller (command
// link format). A command buffer is 16 words: a header bitmap followed by
// the payload of each field present in the header.
type GDMA struct {
	srcWord int
}

func NewGDMA() *GDMA {
	// The source address slot depends on which fields precede it in the
	// header, resolve it once rather than at each completion interrupt.
	return &GDMA{srcWord: GDMAFieldWord(gdmaHeader, GDMASrcAddr)}
}

func (*GDMA) Name() string     { return "gdma" }
func (*GDMA) Size() uint32     { return gdmaCmdBufWords * 4 }
func (g *GDMA) SrcWord() int   { return g.srcWord }
func (*GDMA) MaxCount() uint32 { return 0xFFFF }

// GDMAFieldWord returns the index, within a command buffer, of the payload
// word of field in a command link with the given header, or -1 if the
// header doesn't carry it.
func GDMAFieldWord(header, field uint32) int {
	if header&field == 0 || field&gdmaNoPayload != 0 {
		return -1
	}
	return 1 + bits.OnesCount32(header&^gdmaNoPayload&(field-1))
}

func (g *GDMA) Encode(d Descriptor) []uint32 {
	if d.Count == 0 || d.Count > g.MaxCount() {
		panic("gdma: transfer count out of range")
	}

	w := make([]uint32, gdmaCmdBufWords)
	w[0] = gdmaHeader
	put := func(field uint32, val uint32) {
		w[GDMAFieldWord(gdmaHeader, field)] = val
	}

	var intren uint32
	if d.IRQ {
		intren = gdmaIntrEnDone
	}
	put(GDMAIntrEn, intren)

	var ctrl uint32
	hwio.SetField32(&ctrl, gdmaCtrlTranSizePos, gdmaCtrlTranSizeLen, gdmaTranSize16)
	hwio.SetField32(&ctrl, gdmaCtrlXTypePos, gdmaCtrlXTypeLen, gdmaXTypeCont)
	hwio.SetField32(&ctrl, gdmaCtrlYTypePos, gdmaCtrlYTypeLen, gdmaYTypeDisabl)
	put(GDMACtrl, ctrl)

	put(GDMASrcAddr, d.Src)
	put(GDMADesAddr, d.Dst)
	put(GDMAXSize, d.Count<<16|d.Count)

	var inc uint32
	if d.SrcInc {
		inc |= 1
	}
	if d.DstInc {
		inc |= 1 << 16
	}
	put(GDMAXAddrInc, inc)
	put(GDMALinkAddr, d.Link&gdmaLinkAddrMsk|gdmaLinkAddrEn)
	return w
}

func (g *GDMA) Decode(w []uint32) Descriptor {
	hdr := w[0]
	get := func(field uint32) uint32 {
		if idx := GDMAFieldWord(hdr, field); idx >= 0 {
			return w[idx]
		}
		return 0
	}

	var d Descriptor
	d.Src = get(GDMASrcAddr)
	d.Dst = get(GDMADesAddr)
	d.Count = get(GDMAXSize) & 0xFFFF
	inc := get(GDMAXAddrInc)
	d.SrcInc = inc&0xFFFF != 0
	d.DstInc = inc>>16 != 0
	d.IRQ = get(GDMAIntrEn)&gdmaIntrEnDone != 0
	if link := get(GDMALinkAddr); link&gdmaLinkAddrEn != 0 {
		d.Link = link & gdmaLinkAddrMsk
	}
	return d
}
