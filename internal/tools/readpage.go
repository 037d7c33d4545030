package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// maxPageContent caps the extracted text returned to the model.
const maxPageContent = 10000

// ReadPageParams are the model-facing parameters for read_page.
type ReadPageParams struct {
	URL string `json:"url" jsonschema:"description=The http or https URL of the page to read"`
}

// ReadPage implements the read_page tool: fetch a URL and return its
// readable text. URLs resolving to private or reserved addresses are
// rejected to keep the tool from probing the server's own network.
type ReadPage struct {
	config     ReadPageConfig
	httpClient *http.Client
	schema     json.RawMessage
}

// ReadPageConfig configures the page reader.
type ReadPageConfig struct {
	// SkipSSRFCheck allows localhost URLs. Tests only.
	SkipSSRFCheck bool
}

// NewReadPage creates the read_page tool.
func NewReadPage(config ReadPageConfig) *ReadPage {
	return &ReadPage{
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		schema:     deriveSchema(&ReadPageParams{}),
	}
}

func (t *ReadPage) Name() string {
	return "read_page"
}

func (t *ReadPage) Description() string {
	return "Fetch a web page and return its readable text content. Use after web_search to read a result in full."
}

func (t *ReadPage) Schema() json.RawMessage {
	return t.schema
}

func (t *ReadPage) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params ReadPageParams
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	content, err := t.extract(ctx, params.URL)
	if err != nil {
		return errorResult("failed to read page: %v", err), nil
	}
	return &Result{Content: content}, nil
}

func (t *ReadPage) extract(ctx context.Context, targetURL string) (string, error) {
	if !t.config.SkipSSRFCheck {
		if err := validateURLForSSRF(targetURL); err != nil {
			return "", fmt.Errorf("URL validation failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	content := extractReadableContent(string(body))
	if len(content) > maxPageContent {
		content = content[:maxPageContent] + "..."
	}
	return content, nil
}

// validateURLForSSRF rejects URLs that point at private or reserved
// addresses.
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lowerHost := strings.ToLower(hostname)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable hosts pass through; DNS may be handled by a proxy.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	// Cloud metadata endpoint.
	return ip.Equal(net.ParseIP("169.254.169.254"))
}

// extractReadableContent implements a simplified readability pass: strip
// boilerplate tags, pull the title and description, then the main content.
func extractReadableContent(html string) string {
	for _, tag := range []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"} {
		html = removeTag(html, tag)
	}

	title := extractTitle(html)
	description := extractMetaDescription(html)
	content := extractMainContent(html)
	if content == "" {
		content = extractFromBody(html)
	}
	content = cleanText(content)

	var result strings.Builder
	if title != "" {
		result.WriteString("Title: ")
		result.WriteString(title)
		result.WriteString("\n\n")
	}
	if description != "" {
		result.WriteString("Description: ")
		result.WriteString(description)
		result.WriteString("\n\n")
	}
	result.WriteString(content)
	return result.String()
}

func removeTag(html, tag string) string {
	re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	return re.ReplaceAllString(html, "")
}

func extractTitle(html string) string {
	re := regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}
	re = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}
	re = regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}
	return ""
}

func extractMetaDescription(html string) string {
	re := regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}
	re = regexp.MustCompile(`(?i)<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']*)["']`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return cleanText(matches[1])
	}
	return ""
}

func extractMainContent(html string) string {
	patterns := []string{
		`(?is)<main[^>]*>(.*?)</main>`,
		`(?is)<article[^>]*>(.*?)</article>`,
		`(?is)<div[^>]*class=["'][^"']*content[^"']*["'][^>]*>(.*?)</div>`,
		`(?is)<div[^>]*id=["']content["'][^>]*>(.*?)</div>`,
		`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`,
	}
	for _, pattern := range patterns {
		re := regexp.MustCompile(pattern)
		if matches := re.FindStringSubmatch(html); len(matches) > 1 {
			text := extractText(matches[1])
			if len(strings.TrimSpace(text)) > 200 {
				return text
			}
		}
	}
	return ""
}

func extractFromBody(html string) string {
	re := regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	if matches := re.FindStringSubmatch(html); len(matches) > 1 {
		return extractText(matches[1])
	}
	return ""
}

// extractText strips tags while preserving paragraph breaks.
func extractText(html string) string {
	for _, tag := range []string{"p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br"} {
		re := regexp.MustCompile(`(?i)</?` + tag + `[^>]*>`)
		html = re.ReplaceAllString(html, "\n")
	}
	re := regexp.MustCompile(`<[^>]*>`)
	return re.ReplaceAllString(html, "")
}

func cleanText(text string) string {
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
	text = replacer.Replace(text)

	spaceRe := regexp.MustCompile(`[^\S\n]+`)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	newlineRe := regexp.MustCompile(`\n{3,}`)
	text = newlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
