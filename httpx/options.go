package httpx

import (
	"encoding/base64"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ConnOptions are the connection-level settings of a request. Requests
// whose normalized options are equal share a session.
type ConnOptions struct {
	// BindTo is a local address ("host[:port]") or "unix:<path>" to
	// connect through a unix socket.
	BindTo string `yaml:"bind_to" env:"BIND_TO"`
	// InsecureSkipVerify disables peer and host name verification.
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	CAFile             string `yaml:"ca_file" env:"CA_FILE"`
	CAPath             string `yaml:"ca_path" env:"CA_PATH"`
	LocalCert          string `yaml:"local_cert" env:"LOCAL_CERT"`
	LocalKey           string `yaml:"local_key" env:"LOCAL_KEY"`
	// Ciphers restricts TLS 1.2 cipher suites by IANA name.
	Ciphers []string `yaml:"ciphers" env:"CIPHERS"`
	// PinSHA256 lists accepted base64 SHA-256 digests of the peer's
	// public key.
	PinSHA256            []string `yaml:"pin_sha256" env:"PIN_SHA256"`
	CapturePeerCertChain bool     `yaml:"capture_peer_cert_chain" env:"CAPTURE_PEER_CERT_CHAIN"`
	// MinTLSVersion is "1.0" to "1.3"; empty means the library default.
	MinTLSVersion string `yaml:"min_tls_version" env:"MIN_TLS_VERSION"`
	// Proxy is an http:// proxy URL. When empty the environment is
	// consulted.
	Proxy string `yaml:"proxy" env:"PROXY"`
	// NoProxy lists hosts reached directly. nil defers to NO_PROXY.
	NoProxy []string `yaml:"no_proxy" env:"NO_PROXY"`
	// ProxyAuth is a Proxy-Authorization value, taken from the request
	// headers or the proxy URL's user info.
	ProxyAuth string `yaml:"-" env:"-"`
}

// Key hashes the normalized options.
func (o ConnOptions) Key() uint64 {
	n := o.normalize()
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	write(n.BindTo)
	write(strconv.FormatBool(n.InsecureSkipVerify))
	write(n.CAFile)
	write(n.CAPath)
	write(n.LocalCert)
	write(n.LocalKey)
	write(strings.Join(n.Ciphers, ":"))
	write(strings.Join(n.PinSHA256, ","))
	write(strconv.FormatBool(n.CapturePeerCertChain))
	write(n.MinTLSVersion)
	write(n.Proxy)
	write(n.ProxyAuth)
	return d.Sum64()
}

// normalize trims values and drops settings that have no effect once the
// proxy is resolved.
func (o ConnOptions) normalize() ConnOptions {
	n := o
	n.BindTo = strings.TrimSpace(n.BindTo)
	if n.BindTo == "0" || n.BindTo == "0:0" {
		n.BindTo = ""
	}
	n.CAFile = strings.TrimSpace(n.CAFile)
	n.CAPath = strings.TrimSpace(n.CAPath)
	n.Ciphers = trimAll(n.Ciphers)
	n.PinSHA256 = trimAll(n.PinSHA256)
	slices.Sort(n.PinSHA256)
	n.PinSHA256 = slices.Compact(n.PinSHA256)
	if len(n.PinSHA256) > 0 {
		n.CapturePeerCertChain = true
	}
	n.Proxy = strings.TrimSpace(n.Proxy)
	n.NoProxy = nil
	if n.Proxy == "" {
		n.ProxyAuth = ""
	}
	return n
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveProxy fixes the proxy for u: explicit option, then environment,
// unless u matches the no-proxy rules. Credentials in the proxy URL
// become ProxyAuth.
func resolveProxy(u *url.URL, o ConnOptions) ConnOptions {
	proxy := o.Proxy
	if proxy == "" {
		proxy = proxyFromEnvironment(u.Scheme)
	}
	rules := o.NoProxy
	if rules == nil {
		if v := firstEnv("NO_PROXY", "no_proxy"); v != "" {
			rules = strings.Split(v, ",")
		}
	}
	if proxy == "" || noProxyMatch(rules, hostOnly(u.Host), portOf(u)) {
		o.Proxy, o.ProxyAuth = "", ""
		return o
	}
	if pu, err := url.Parse(proxy); err == nil {
		if pu.User != nil && o.ProxyAuth == "" {
			pass, _ := pu.User.Password()
			o.ProxyAuth = "Basic " + base64.StdEncoding.EncodeToString([]byte(pu.User.Username()+":"+pass))
		}
		pu.User = nil
		proxy = pu.String()
	}
	o.Proxy = proxy
	return o
}

// ProxyFromEnvironment resolves a proxy URL for u from HTTP_PROXY,
// HTTPS_PROXY and ALL_PROXY, honoring NO_PROXY. It behaves like
// net/http.ProxyFromEnvironment for common cases.
func ProxyFromEnvironment(u *url.URL) (*url.URL, error) {
	if u == nil {
		return nil, nil
	}
	o := resolveProxy(u, ConnOptions{})
	if o.Proxy == "" {
		return nil, nil
	}
	return url.Parse(o.Proxy)
}

func proxyFromEnvironment(scheme string) string {
	var p string
	if scheme == "https" {
		p = firstEnv("HTTPS_PROXY", "https_proxy")
	} else {
		p = firstEnv("HTTP_PROXY", "http_proxy")
	}
	if p == "" {
		p = firstEnv("ALL_PROXY", "all_proxy")
	}
	return p
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func noProxyMatch(rules []string, host, port string) bool {
	host = strings.ToLower(host)
	for _, p := range rules {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if p == "*" {
			return true
		}
		// Scheme prefix: ignore if provided
		if i := strings.Index(p, "://"); i >= 0 {
			p = p[i+3:]
		}
		// CIDR match
		if strings.Contains(p, "/") {
			ip := net.ParseIP(strings.Trim(host, "[]"))
			if ip != nil {
				if _, cidr, err := net.ParseCIDR(p); err == nil && cidr.Contains(ip) {
					return true
				}
			}
			continue
		}
		// Port specific pattern
		patPort := ""
		if i := strings.LastIndex(p, ":"); i != -1 && !strings.HasSuffix(p, "]") && strings.Count(p, ":") == 1 {
			patPort = p[i+1:]
			p = p[:i]
		} else if strings.HasPrefix(p, "[") {
			if i := strings.LastIndex(p, "]:"); i != -1 {
				patPort = p[i+2:]
				p = p[:i+1]
			}
		}
		if patPort != "" && port != patPort {
			continue
		}
		p = strings.Trim(p, "[]")
		if host == p {
			return true
		}
		// Domain suffix match
		if strings.HasPrefix(p, ".") {
			if strings.HasSuffix(host, p) {
				return true
			}
		} else if strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

// hostOnly strips the port and IPv6 brackets.
func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return strings.Trim(hostport, "[]")
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

func hostPort(u *url.URL) string {
	return net.JoinHostPort(hostOnly(u.Host), portOf(u))
}
