package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cimcon/p2p/internal/inventory"
	"github.com/cimcon/p2p/internal/procurement"
	"github.com/cimcon/p2p/internal/shared"
	"github.com/cimcon/p2p/web"
)

// ErrRenderFailed marks a failed document conversion.
var ErrRenderFailed = shared.NewError(shared.KindIntegration, "pdf_render_failed", "document: render failed")

// Renderer converts HTML into PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// MetricsPort counts render outcomes.
type MetricsPort interface {
	PDFRendered(kind string, err error)
}

// Config tunes document generation.
type Config struct {
	// LogoPath overrides the bundled logo.
	LogoPath string
	// TermsPath overrides the bundled terms; TermsText wins over both.
	TermsPath string
	TermsText string
	Timeout   time.Duration
	Geometry  Geometry
}

// Service composes and renders purchase order and outward documents.
type Service struct {
	renderer  Renderer
	store     *Store
	templates *template.Template
	logo      template.URL
	terms     []Paragraph
	timeout   time.Duration
	geometry  Geometry
	group     singleflight.Group
	metrics   MetricsPort
	logger    *slog.Logger
}

// NewService loads templates, logo and terms. renderer may be nil, in which
// case outward documents are served as HTML and purchase orders fail.
func NewService(renderer Renderer, store *Store, cfg Config, metrics MetricsPort, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tpl, err := template.ParseFS(web.Templates, "templates/documents/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse document templates: %w", err)
	}
	logo, err := loadLogo(cfg.LogoPath)
	if err != nil {
		return nil, err
	}
	termsText := cfg.TermsText
	if termsText == "" {
		raw, err := readOr(cfg.TermsPath, web.Terms, "terms/po_terms.txt")
		if err != nil {
			return nil, fmt.Errorf("load terms: %w", err)
		}
		termsText = string(raw)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = A4()
	}
	return &Service{
		renderer:  renderer,
		store:     store,
		templates: tpl,
		logo:      logo,
		terms:     ParseTerms(termsText),
		timeout:   cfg.Timeout,
		geometry:  cfg.Geometry,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func readOr(path string, fsys fs.FS, fallback string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return fs.ReadFile(fsys, fallback)
}

func loadLogo(path string) (template.URL, error) {
	raw, err := readOr(path, web.Static, "static/img/logo.svg")
	if err != nil {
		return "", fmt.Errorf("load logo: %w", err)
	}
	ext := ".svg"
	if path != "" {
		ext = filepath.Ext(path)
	}
	mediaType := mime.TypeByExtension(ext)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return template.URL("data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw)), nil
}

type poView struct {
	Doc      Document
	Logo     template.URL
	Geometry Geometry
	Frame    float64
	Columns  [8]float64
}

// ComposeHTML lays out the order and renders its pages as one HTML document.
func (s *Service) ComposeHTML(po procurement.PurchaseOrder) (Document, []byte, error) {
	doc := Compose(po, s.terms, s.geometry)
	var buf bytes.Buffer
	view := poView{Doc: doc, Logo: s.logo, Geometry: s.geometry, Frame: s.geometry.Frame(), Columns: ColumnWidthsMM}
	if err := s.templates.ExecuteTemplate(&buf, "purchase_order.html", view); err != nil {
		return Document{}, nil, fmt.Errorf("render purchase order template: %w", err)
	}
	return doc, buf.Bytes(), nil
}

// GeneratePDF renders the order and stores it under the media root.
// Concurrent calls for the same order share one render. The order itself is
// never modified.
func (s *Service) GeneratePDF(ctx context.Context, po procurement.PurchaseOrder) (string, error) {
	rel := POFileName(po.PONumber, po.VendorName)
	ch := s.group.DoChan(rel, func() (any, error) {
		// detached so one caller going away does not fail the others
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return rel, s.renderPO(ctx, po, rel)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return rel, nil
	}
}

func (s *Service) renderPO(ctx context.Context, po procurement.PurchaseOrder, rel string) (err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.PDFRendered("purchase_order", err)
		}
		if err != nil {
			s.logger.Error("purchase order pdf failed", slog.Int64("po_id", po.ID), slog.String("po_number", po.PONumber), slog.Any("error", err))
		}
	}()
	if s.renderer == nil {
		return fmt.Errorf("%w: no pdf renderer configured", ErrRenderFailed)
	}
	doc, html, err := s.ComposeHTML(po)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	pdf, err := s.renderer.RenderHTML(ctx, html)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	path, err := s.store.Write(rel, pdf)
	if err != nil {
		return fmt.Errorf("%w: store: %v", ErrRenderFailed, err)
	}
	s.logger.Info("purchase order pdf written",
		slog.String("po_number", po.PONumber),
		slog.String("path", path),
		slog.Int("pages", doc.TotalPages))
	return nil
}

// RenderPO generates the order PDF and returns the stored file.
func (s *Service) RenderPO(ctx context.Context, po procurement.PurchaseOrder) (string, []byte, error) {
	rel, err := s.GeneratePDF(ctx, po)
	if err != nil {
		return "", nil, err
	}
	body, err := s.store.Read(rel)
	if err != nil {
		return "", nil, fmt.Errorf("%w: read %s: %v", ErrRenderFailed, rel, err)
	}
	return filepath.Base(rel), body, nil
}

type outwardView struct {
	Outward    inventory.StockOutward
	Item       inventory.Inventory
	Title      string
	Returnable bool
	Logo       template.URL
}

var outwardTitles = map[inventory.DocumentType]string{
	inventory.DocumentChallan:         "DELIVERY CHALLAN",
	inventory.DocumentGatePass:        "RETURNABLE GATE PASS",
	inventory.DocumentRejectionReturn: "REJECTED MATERIAL RETURN",
}

// RenderOutward produces the challan, gate pass or rejection return paper of
// an outward. Without a PDF renderer the HTML is returned.
func (s *Service) RenderOutward(ctx context.Context, o inventory.StockOutward, inv inventory.Inventory) (string, []byte, error) {
	view := outwardView{
		Outward:    o,
		Item:       inv,
		Title:      outwardTitles[o.DocumentType],
		Returnable: o.DocumentType == inventory.DocumentGatePass,
		Logo:       s.logo,
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "outward.html", view); err != nil {
		return "", nil, fmt.Errorf("render outward template: %w", err)
	}
	if s.renderer == nil {
		return "text/html; charset=utf-8", buf.Bytes(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pdf, err := s.renderer.RenderHTML(ctx, buf.Bytes())
	if s.metrics != nil {
		s.metrics.PDFRendered(string(o.DocumentType), err)
	}
	if err != nil {
		s.logger.Error("outward document failed", slog.String("document_number", o.DocumentNumber), slog.Any("error", err))
		return "", nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	if _, err := s.store.Write(OutwardFileName(o.DocumentNumber), pdf); err != nil {
		s.logger.Warn("outward document not stored", slog.String("document_number", o.DocumentNumber), slog.Any("error", err))
	}
	return "application/pdf", pdf, nil
}
