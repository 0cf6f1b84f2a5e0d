// Package avm tags aligned images with AVM spatial metadata. The
// metadata travels as an XMP packet embedded in the output file, the
// same packet layout astronomy viewers expect.
package avm

import (
	"fmt"
	"strings"

	"skyalign/internal/wcs"
)

// Packet holds the spatial registration written into an output image.
type Packet struct {
	RefRA       float64
	RefDec      float64
	RefPixX     float64
	RefPixY     float64
	ScaleDeg    float64
	RotationDeg float64
	Width       int
	Height      int
}

// FromTransform derives the packet from a solved transform and the
// output image dimensions.
func FromTransform(t *wcs.Transform, width, height int) *Packet {
	return &Packet{
		RefRA:       t.CRVal1,
		RefDec:      t.CRVal2,
		RefPixX:     t.CRPix1,
		RefPixY:     t.CRPix2,
		ScaleDeg:    t.PixelScaleDeg(),
		RotationDeg: t.RotationDeg(),
		Width:       width,
		Height:      height,
	}
}

const xmpHeader = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>`
const xmpTrailer = `<?xpacket end="w"?>`

// XMP renders the packet as a standalone XMP document.
func (p *Packet) XMP() string {
	var b strings.Builder
	b.WriteString(xmpHeader)
	b.WriteString("\n<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	b.WriteString(" <rdf:RDF xmlns:rdf=\"http://www.w3.org/1999/02/22-rdf-syntax-ns#\">\n")
	b.WriteString("  <rdf:Description rdf:about=\"\" xmlns:avm=\"http://www.communicatingastronomy.org/avm/1.0/\">\n")
	b.WriteString("   <avm:Spatial.CoordinateFrame>ICRS</avm:Spatial.CoordinateFrame>\n")
	b.WriteString("   <avm:Spatial.Equinox>J2000</avm:Spatial.Equinox>\n")
	b.WriteString("   <avm:Spatial.CoordsystemProjection>TAN</avm:Spatial.CoordsystemProjection>\n")
	b.WriteString("   <avm:Spatial.Quality>Full</avm:Spatial.Quality>\n")
	writeSeq(&b, "Spatial.ReferenceValue", fmtF(p.RefRA), fmtF(p.RefDec))
	writeSeq(&b, "Spatial.ReferenceDimension", fmt.Sprintf("%d", p.Width), fmt.Sprintf("%d", p.Height))
	writeSeq(&b, "Spatial.ReferencePixel", fmtF(p.RefPixX), fmtF(p.RefPixY))
	writeSeq(&b, "Spatial.Scale", fmtF(-p.ScaleDeg), fmtF(p.ScaleDeg))
	b.WriteString("   <avm:Spatial.Rotation>" + fmtF(p.RotationDeg) + "</avm:Spatial.Rotation>\n")
	b.WriteString("  </rdf:Description>\n")
	b.WriteString(" </rdf:RDF>\n")
	b.WriteString("</x:xmpmeta>\n")
	b.WriteString(xmpTrailer)
	return b.String()
}

func writeSeq(b *strings.Builder, tag string, values ...string) {
	b.WriteString("   <avm:" + tag + ">\n    <rdf:Seq>\n")
	for _, v := range values {
		b.WriteString("     <rdf:li>" + v + "</rdf:li>\n")
	}
	b.WriteString("    </rdf:Seq>\n   </avm:" + tag + ">\n")
}

func fmtF(v float64) string {
	return fmt.Sprintf("%.10g", v)
}
