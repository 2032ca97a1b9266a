// Package certs provides a TLS configuration whose server certificate is
// reloaded whenever the underlying files change.
package certs

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/mpapenbr/nexttogo-service-go/log"
)

var (
	ErrNoSource       = errors.New("no certificate source configured")
	ErrDomainNotFound = errors.New("domain not found")
)

type (
	Provider struct {
		certFile     string
		keyFile      string
		acmeFile     string
		acmeDomain   string
		log          *log.Logger
		mu           sync.RWMutex
		cert         *tls.Certificate
		watcherReady chan struct{}
	}
	Option func(*Provider)

	acmeEntry struct {
		Certificate string `json:"certificate"`
		Key         string `json:"key"`
	}
)

// WithKeyPair loads the certificate from PEM encoded cert and key files.
func WithKeyPair(certFile, keyFile string) Option {
	return func(p *Provider) {
		p.certFile = certFile
		p.keyFile = keyFile
	}
}

// WithTraefikStore loads the certificate for domain from a traefik acme.json file.
func WithTraefikStore(file, domain string) Option {
	return func(p *Provider) {
		p.acmeFile = file
		p.acmeDomain = domain
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Provider) {
		p.log = l
	}
}

func NewProvider(opts ...Option) (*Provider, error) {
	p := &Provider{
		log:          log.Default().Named("certs"),
		watcherReady: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.files()) == 0 {
		return nil, ErrNoSource
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// TLSConfig returns a config which always serves the most recently loaded
// certificate.
func (p *Provider) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return p.Certificate(), nil
		},
		MinVersion: tls.VersionTLS12,
	}
}

func (p *Provider) Certificate() *tls.Certificate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cert
}

// Watch reloads the certificate on file changes until ctx is done.
// A failed reload keeps the previous certificate.
//
//nolint:cyclop // by design
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for _, f := range p.files() {
		if err := watcher.Add(f); err != nil {
			return fmt.Errorf("watch %s: %w", f, err)
		}
	}
	close(p.watcherReady)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p.log.Debug("change detected",
				log.String("file", event.Name), log.Stringer("op", event.Op))
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Chmod) {

				if err := p.load(); err != nil {
					p.log.Error("could not reload cert", log.ErrorField(err))
				} else {
					p.log.Info("cert reloaded", log.String("file", event.Name))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Error("watcher error", log.ErrorField(err))
		}
	}
}

func (p *Provider) files() []string {
	if p.acmeFile != "" && p.acmeDomain != "" {
		return []string{p.acmeFile}
	}
	if p.certFile != "" && p.keyFile != "" {
		return []string{p.certFile, p.keyFile}
	}
	return nil
}

func (p *Provider) load() error {
	var cert tls.Certificate
	var err error
	if p.acmeFile != "" && p.acmeDomain != "" {
		var data []byte
		if data, err = os.ReadFile(p.acmeFile); err != nil {
			return err
		}
		cert, err = fromTraefik(data, p.acmeDomain)
	} else {
		cert, err = tls.LoadX509KeyPair(p.certFile, p.keyFile)
	}
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cert = &cert
	return nil
}

func fromTraefik(data []byte, domain string) (tls.Certificate, error) {
	entry, err := lookupAcmeEntry(data, domain)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM, err := base64.StdEncoding.DecodeString(entry.Certificate)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := base64.StdEncoding.DecodeString(entry.Key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// the acme.json of traefik holds the certificates of all resolvers
func lookupAcmeEntry(data []byte, domain string) (*acmeEntry, error) {
	obj, err := oj.Parse(data)
	if err != nil {
		return nil, err
	}
	path, err := jp.ParseString(
		fmt.Sprintf(`$..Certificates[?(@.domain.main == %q)]`, domain))
	if err != nil {
		return nil, err
	}
	res := path.Get(obj)
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}
	ret := &acmeEntry{}
	if err := oj.Unmarshal([]byte(oj.JSON(res[0])), ret); err != nil {
		return nil, err
	}
	return ret, nil
}
