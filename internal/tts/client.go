// Package tts turns narration scripts into speech through one of several
// synthesis backends.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/core"
)

// API endpoints and paths.
const (
	apiTranslateTTS = "/translate_tts"
	googleClient    = "tw-ob"
	slowSpeed       = "0.3"
)

// HTTP headers.
const (
	headerUserAgent = "User-Agent"
	headerReferer   = "Referer"
	defaultAgent    = "Mozilla/5.0 (X11; Linux x86_64) bulletin-reader/1.0"
)

const clausePunctuation = ".,;:!?"

// maxChunkRunes is the longest text the translate endpoint accepts per request.
const maxChunkRunes = 100

// Error messages.
const (
	errFmtServiceNonOKStatus = "speech service returned non-OK status: %s, body: %s"
	errFmtChunkFailed        = "chunk %d/%d failed: %w"
)

// Client errors.
var (
	ErrTextEmpty      = errors.New("text cannot be empty")
	ErrServiceStatus  = errors.New("speech service rejected the request")
	ErrReceivedEmpty  = errors.New("received empty audio data")
	ErrInvalidBaseURL = errors.New("invalid speech service URL")
)

// GoogleClient synthesizes speech with the Google Translate TTS endpoint.
// Long text is sent in chunks and the returned MP3 frames are concatenated.
type GoogleClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewGoogleClient creates a client for the endpoint rooted at baseURL. The
// timeout applies to each chunk request.
func NewGoogleClient(baseURL string, timeout time.Duration) (*GoogleClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	return &GoogleClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  defaultAgent,
	}, nil
}

// Name implements core.Synthesizer.
func (c *GoogleClient) Name() string { return "google" }

// Synthesize implements core.Synthesizer.
func (c *GoogleClient) Synthesize(ctx context.Context, req core.SpeechRequest) (*core.Speech, error) {
	chunks := SplitText(req.Text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, ErrTextEmpty
	}

	var speech bytes.Buffer

	for index, chunk := range chunks {
		data, err := c.fetchChunk(ctx, req, chunk, index, len(chunks))
		if err != nil {
			return nil, fmt.Errorf(errFmtChunkFailed, index+1, len(chunks), err)
		}

		speech.Write(data)
	}

	return &core.Speech{Audio: speech.Bytes(), Format: audio.FormatMP3}, nil
}

func (c *GoogleClient) fetchChunk(
	ctx context.Context,
	req core.SpeechRequest,
	chunk string,
	index, total int,
) ([]byte, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("q", chunk)
	query.Set("tl", req.Locale)
	query.Set("client", googleClient)
	query.Set("total", strconv.Itoa(total))
	query.Set("idx", strconv.Itoa(index))
	query.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	if req.Slow {
		query.Set("ttsspeed", slowSpeed)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+apiTranslateTTS+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerUserAgent, c.userAgent)
	httpReq.Header.Set(headerReferer, c.baseURL+"/")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, fmt.Errorf("%w: "+errFmtServiceNonOKStatus, ErrServiceStatus, resp.Status, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrReceivedEmpty
	}

	return data, nil
}

// SplitText breaks text into pieces of at most limit runes. Pieces end at
// punctuation where possible, then at spaces; a single word longer than limit
// is cut hard.
func SplitText(text string, limit int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || limit <= 0 {
		return nil
	}

	var (
		chunks  []string
		current []string
		length  int
	)

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			length = 0
		}
	}

	for _, word := range words {
		for utf8.RuneCountInString(word) > limit {
			flush()

			runes := []rune(word)
			chunks = append(chunks, string(runes[:limit]))
			word = string(runes[limit:])
		}

		wordLen := utf8.RuneCountInString(word)

		needed := wordLen
		if length > 0 {
			needed++
		}

		if length+needed > limit {
			flush()

			needed = wordLen
		}

		current = append(current, word)
		length += needed

		if endsClause(word) && length > limit/2 {
			flush()
		}
	}

	flush()

	return chunks
}

func endsClause(word string) bool {
	last, _ := utf8.DecodeLastRuneInString(word)

	return strings.ContainsRune(clausePunctuation, last)
}
