package dma

import "ebilcd/hw/hwio"

// PDMA descriptor table entry: CTL, SA, DA, NEXT.
const (
	pdmaWordCTL = iota
	pdmaWordSA
	pdmaWordDA
	pdmaWordNEXT
	pdmaWords
)

// CTL word layout.
const (
	pdmaOpModePos   = 0 // [1:0]
	pdmaOpModeWidth = 2
	pdmaTxTypeBit   = 2 // single transfer when set
	pdmaBurSizePos  = 4 // [6:4]
	pdmaBurSizeLen  = 3
	pdmaTBIntDisBit = 7 // table interrupt disable
	pdmaSAIncPos    = 8 // [9:8], 3 = fixed
	pdmaDAIncPos    = 10
	pdmaIncWidth    = 2
	pdmaTxWidthPos  = 12 // [13:12], 0 = 8, 1 = 16, 2 = 32 bits
	pdmaTxWidthLen  = 2
	pdmaTxCntPos    = 16 // [31:16], count - 1
	pdmaTxCntLen    = 16

	pdmaOpModeSG = 2
	pdmaIncFixed = 3
	pdmaWidth16  = 1
)

// PDMA is the encoder of the peripheral DMA controller. Its descriptors
// are 4 words long and always run in scatter-gather mode.
type PDMA struct{}

func (PDMA) Name() string     { return "pdma" }
func (PDMA) Size() uint32     { return pdmaWords * 4 }
func (PDMA) SrcWord() int     { return pdmaWordSA }
func (PDMA) MaxCount() uint32 { return 1 << pdmaTxCntLen }

func (p PDMA) Encode(d Descriptor) []uint32 {
	if d.Count == 0 || d.Count > p.MaxCount() {
		panic("pdma: transfer count out of range")
	}

	var ctl uint32
	hwio.SetField32(&ctl, pdmaOpModePos, pdmaOpModeWidth, pdmaOpModeSG)
	hwio.SetBit32(&ctl, pdmaTxTypeBit)
	hwio.SetField32(&ctl, pdmaTxWidthPos, pdmaTxWidthLen, pdmaWidth16)
	hwio.SetField32(&ctl, pdmaTxCntPos, pdmaTxCntLen, d.Count-1)
	if !d.SrcInc {
		hwio.SetField32(&ctl, pdmaSAIncPos, pdmaIncWidth, pdmaIncFixed)
	}
	if !d.DstInc {
		hwio.SetField32(&ctl, pdmaDAIncPos, pdmaIncWidth, pdmaIncFixed)
	}
	if !d.IRQ {
		hwio.SetBit32(&ctl, pdmaTBIntDisBit)
	}

	w := make([]uint32, pdmaWords)
	w[pdmaWordCTL] = ctl
	w[pdmaWordSA] = d.Src
	w[pdmaWordDA] = d.Dst
	w[pdmaWordNEXT] = d.Link
	return w
}

func (PDMA) Decode(w []uint32) Descriptor {
	ctl := w[pdmaWordCTL]
	return Descriptor{
		Src:    w[pdmaWordSA],
		Dst:    w[pdmaWordDA],
		Count:  hwio.Field32(ctl, pdmaTxCntPos, pdmaTxCntLen) + 1,
		SrcInc: hwio.Field32(ctl, pdmaSAIncPos, pdmaIncWidth) != pdmaIncFixed,
		DstInc: hwio.Field32(ctl, pdmaDAIncPos, pdmaIncWidth) != pdmaIncFixed,
		Link:   w[pdmaWordNEXT],
		IRQ:    !hwio.GetBit32(ctl, pdmaTBIntDisBit),
	}
}
