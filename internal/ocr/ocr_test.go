package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeService returns errs in order, then text. A nil entry in errs means success.
type fakeService struct {
	name  string
	text  string
	errs  []error
	calls int
	block bool
	seen  []string
}

func (f *fakeService) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, f, data, mimeType)
}

func (f *fakeService) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	f.calls++
	b, _ := io.ReadAll(data)
	f.seen = append(f.seen, string(b))
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return &OCRResult{Text: f.text, PageCount: 1, Provider: f.name}, nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	fake := &fakeService{
		text: "Invoice No: 1",
		errs: []error{
			WrapOCRError("call", ErrTransient, "unavailable"),
			WrapOCRError("call", ErrQuotaExceeded, "rate limited"),
		},
	}
	svc := NewRetryingService(fake, fastRetry(3))

	result, err := svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("%PDF-1.4"), MimePDF)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 3 || fake.calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 and 3", result.Attempts, fake.calls)
	}
	for i, body := range fake.seen {
		if body != "%PDF-1.4" {
			t.Errorf("attempt %d saw body %q", i+1, body)
		}
	}
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	fake := &fakeService{errs: []error{WrapOCRError("call", ErrUnsupportedFormat, "bad input")}}
	svc := NewRetryingService(fake, fastRetry(5))

	_, err := svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("x"), MimePNG)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if fake.calls != 1 || AttemptsOf(err) != 1 {
		t.Errorf("calls = %d, AttemptsOf = %d, want 1", fake.calls, AttemptsOf(err))
	}
	if IsTransient(err) {
		t.Error("permanent failure reported as transient")
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	transient := WrapOCRError("call", ErrTransient, "unavailable")
	fake := &fakeService{errs: []error{transient, transient, transient, transient}}
	svc := NewRetryingService(fake, fastRetry(3))

	_, err := svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("x"), MimePNG)
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.calls != 3 || AttemptsOf(err) != 3 {
		t.Errorf("calls = %d, AttemptsOf = %d, want 3", fake.calls, AttemptsOf(err))
	}
	if !IsTransient(err) {
		t.Errorf("exhausted transient failure should stay transient: %v", err)
	}
}

func TestRetryTimesOutEachAttempt(t *testing.T) {
	fake := &fakeService{block: true}
	cfg := fastRetry(2)
	cfg.Timeout = 5 * time.Millisecond
	svc := NewRetryingService(fake, cfg)

	_, err := svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("x"), MimePNG)
	if !IsTransient(err) {
		t.Fatalf("timeout should be transient, got %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
}

func TestRetryHonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeService{block: true}
	svc := NewRetryingService(fake, fastRetry(5))

	_, err := svc.ProcessDocumentWithMetadata(ctx, strings.NewReader("x"), MimePNG)
	if !errors.Is(err, ErrContextCanceled) {
		t.Fatalf("err = %v, want ErrContextCanceled", err)
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
}

func TestChainFallsThrough(t *testing.T) {
	first := &fakeService{name: "first", errs: []error{WrapOCRError("call", ErrEmptyDocument, "no text layer")}}
	second := &fakeService{name: "second", text: "GSTIN 29AAGCB7383J1Z4"}

	result, err := NewChain(first, second).ProcessDocumentWithMetadata(context.Background(), strings.NewReader("%PDF"), MimePDF)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "second" {
		t.Errorf("provider = %q, want second", result.Provider)
	}
	if second.seen[0] != "%PDF" {
		t.Errorf("second provider saw %q", second.seen[0])
	}
}

func TestChainReturnsLastError(t *testing.T) {
	first := &fakeService{errs: []error{WrapOCRError("call", ErrUnsupportedFormat, "")}}
	second := &fakeService{errs: []error{WrapOCRError("call", ErrTransient, "")}}

	_, err := NewChain(first, second).ProcessDocumentWithMetadata(context.Background(), strings.NewReader("x"), MimePNG)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}

	_, err = NewChain().ProcessDocumentWithMetadata(context.Background(), strings.NewReader("x"), MimePNG)
	if !errors.Is(err, ErrOCRFailed) {
		t.Errorf("empty chain err = %v, want ErrOCRFailed", err)
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"grpc quota", status.Error(codes.ResourceExhausted, "quota"), ErrQuotaExceeded},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), ErrTransient},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad image"), ErrUnsupportedFormat},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "no"), ErrMissingCredentials},
		{"grpc not found", status.Error(codes.NotFound, "processor"), ErrOCRFailed},
		{"azure rate limit", autorest.DetailedError{StatusCode: 429}, ErrQuotaExceeded},
		{"azure server error", autorest.DetailedError{StatusCode: 503}, ErrTransient},
		{"azure bad request", autorest.DetailedError{StatusCode: 400}, ErrUnsupportedFormat},
		{"azure no response", autorest.DetailedError{StatusCode: 0}, ErrTransient},
		{"canceled", context.Canceled, ErrContextCanceled},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"other", errors.New("boom"), ErrOCRFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyAPIError(tt.err); got != tt.want {
				t.Errorf("classifyAPIError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPDFTextRejectsInput(t *testing.T) {
	svc := NewPDFTextService()

	_, err := svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("png"), MimePNG)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("image err = %v, want ErrUnsupportedFormat", err)
	}

	_, err = svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("not a pdf"), MimePDF)
	if !errors.Is(err, ErrInvalidPDF) {
		t.Errorf("bad header err = %v, want ErrInvalidPDF", err)
	}
}

func TestReadDocumentSizeLimit(t *testing.T) {
	_, err := readDocument("test", bytes.NewReader(make([]byte, MaxFileSizeBytes+1)))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestProcessVisionPages(t *testing.T) {
	page := func(text, lang string, conf float32) *visionpb.AnnotateImageResponse {
		return &visionpb.AnnotateImageResponse{
			FullTextAnnotation: &visionpb.TextAnnotation{
				Text: text,
				Pages: []*visionpb.Page{{
					Confidence: conf,
					Property: &visionpb.TextAnnotation_TextProperty{
						DetectedLanguages: []*visionpb.TextAnnotation_DetectedLanguage{{LanguageCode: lang}},
					},
				}},
			},
		}
	}

	result, err := processVisionPages([]*visionpb.AnnotateImageResponse{
		page("Tax Invoice\n", "hi", 0.5),
		page("Total Tax 75\n", "en", 1.0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", result.PageCount)
	}
	if !strings.Contains(result.Text, "--- Page 2 ---") {
		t.Errorf("missing page separator in %q", result.Text)
	}
	if got := strings.Join(result.LanguageCodes, ","); got != "en,hi" {
		t.Errorf("languages = %q, want en,hi", got)
	}
	if result.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", result.Confidence)
	}

	if _, err := processVisionPages([]*visionpb.AnnotateImageResponse{{}}); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("blank page err = %v, want ErrEmptyDocument", err)
	}
}

func TestDocumentResult(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "Invoice No: INV-7\n",
		Pages: []*documentaipb.Document_Page{
			{
				Layout:            &documentaipb.Document_Page_Layout{Confidence: 0.8},
				DetectedLanguages: []*documentaipb.Document_Page_DetectedLanguage{{LanguageCode: "en"}},
			},
			{
				DetectedLanguages: []*documentaipb.Document_Page_DetectedLanguage{{LanguageCode: "en"}},
			},
		},
	}

	result := documentResult(doc)
	if result.PageCount != 2 || result.Text != doc.Text {
		t.Errorf("result = %+v", result)
	}
	if len(result.LanguageCodes) != 1 || result.Confidence != 0.8 {
		t.Errorf("languages = %v, confidence = %v", result.LanguageCodes, result.Confidence)
	}
}

func TestTextFromOcrResult(t *testing.T) {
	str := func(s string) *string { return &s }
	words := func(ws ...string) *[]computervision.OcrWord {
		out := make([]computervision.OcrWord, 0, len(ws))
		for _, w := range ws {
			out = append(out, computervision.OcrWord{Text: str(w)})
		}
		return &out
	}

	result := computervision.OcrResult{
		Regions: &[]computervision.OcrRegion{
			{Lines: &[]computervision.OcrLine{
				{Words: words("Invoice", "No:", "A/117")},
				{Words: words("GSTIN", "29AAGCB7383J1Z4")},
			}},
			{Lines: nil},
		},
	}

	want := "Invoice No: A/117\nGSTIN 29AAGCB7383J1Z4\n"
	if got := textFromOcrResult(result); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if got := textFromOcrResult(computervision.OcrResult{}); got != "" {
		t.Errorf("empty result text = %q", got)
	}
}

func TestEnhanceKeepsDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 12), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	out, err := DefaultEnhancer().Enhance(buf.Bytes())
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("bounds = %v, want 40x20", b)
	}

	if _, err := DefaultEnhancer().Enhance([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestAzureOCRReadsPrintedText(t *testing.T) {
	var query, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vision/v3.0/ocr" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		key = r.Header.Get("Ocp-Apim-Subscription-Key")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"language":"en","regions":[{"lines":[
			{"words":[{"text":"Invoice"},{"text":"No:"},{"text":"A-17"}]},
			{"words":[{"text":"CGST"},{"text":"9%"},{"text":"90.00"}]}]}]}`)
	}))
	defer srv.Close()

	svc := NewAzureOCRService(srv.URL, "secret", nil)
	result, err := svc.ProcessDocumentWithMetadata(context.Background(), strings.NewReader("\x89PNG"), MimePNG)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "Invoice No: A-17\nCGST 9% 90.00\n" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Provider != ProviderAzure || len(result.LanguageCodes) != 1 || result.LanguageCodes[0] != "en" {
		t.Errorf("result = %+v", result)
	}
	if !strings.Contains(query, "language=unk") || !strings.Contains(query, "detectOrientation=true") {
		t.Errorf("query = %q, want automatic language detection", query)
	}
	if key != "secret" {
		t.Errorf("subscription key = %q", key)
	}
}
