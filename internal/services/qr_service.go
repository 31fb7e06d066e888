package services

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/otpgate/backend/internal/models"
)

type QRService struct{}

func NewQRService() *QRService { return &QRService{} }

// GeneratePairingQRPNG renders the gateway pairing payload as a QR PNG.
// The payload is the raw string the WhatsApp client expects to scan.
func (s *QRService) GeneratePairingQRPNG(payload string) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, 512)
}

// GeneratePairingQRPDF generates a simple A4 PDF with the pairing QR code,
// handy for operators who print the code and scan it from a company phone.
func (s *QRService) GeneratePairingQRPDF(org *models.Organization, payload string) ([]byte, error) {
	var qrBuf bytes.Buffer
	png, err := qrcode.Encode(payload, qrcode.Medium, 512)
	if err != nil {
		return nil, err
	}
	qrBuf.Write(png)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, "WhatsApp Pairing")
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 6, fmt.Sprintf("Organization: %s\nScan this code with the WhatsApp app linked to this organization.", org.Name), "", "L", false)

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(qrBuf.Bytes()))

	// Center QR on the page
	x := (210.0 - 100.0) / 2.0 // A4 width 210mm, QR size 100mm
	y := pdf.GetY() + 10
	pdf.ImageOptions("qr", x, y, 100, 100, false, opt, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
