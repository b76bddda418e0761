// Package certs produces the RedELK certificate authority and the
// Logstash server certificate by driving the openssl CLI.
package certs

import (
	"fmt"
	"net"
	"strings"
)

// Subject is the distinguished name of the generated certificates.
type Subject struct {
	Country string
	State   string
	City    string
	Org     string
	OrgUnit string
	Email   string
}

// DefaultSubject is used in --auto mode and as wizard defaults.
func DefaultSubject() Subject {
	return Subject{
		Country: "US",
		State:   "State",
		City:    "City",
		Org:     "RedTeam",
		OrgUnit: "Operations",
		Email:   "admin@example.com",
	}
}

// Request describes the certificates to generate.
type Request struct {
	Address    string   // server IP or DNS name, becomes the CN
	Additional []string // extra SAN entries
	Subject    Subject
	Days       int
	KeyBits    int
}

func (r Request) withDefaults() Request {
	if r.Days == 0 {
		r.Days = 3650
	}
	if r.KeyBits == 0 {
		r.KeyBits = 2048
	}
	if r.Subject == (Subject{}) {
		r.Subject = DefaultSubject()
	}
	return r
}

// SANs builds the [alt_names] entries. IP and DNS entries are numbered
// independently; localhost and 127.0.0.1 are always present.
func SANs(address string, additional []string) []string {
	var (
		entries []string
		ipN     = 1
		dnsN    = 1
		seen    = make(map[string]bool)
	)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			return
		}
		seen[strings.ToLower(name)] = true
		if net.ParseIP(name) != nil {
			entries = append(entries, fmt.Sprintf("IP.%d = %s", ipN, name))
			ipN++
			return
		}
		entries = append(entries, fmt.Sprintf("DNS.%d = %s", dnsN, name))
		dnsN++
	}

	add(address)
	for _, a := range additional {
		add(a)
	}
	add("localhost")
	add("127.0.0.1")
	return entries
}

// RenderOpenSSLConfig renders the config file used for both the CA and the
// server request.
func RenderOpenSSLConfig(r Request) string {
	r = r.withDefaults()
	s := r.Subject

	var b strings.Builder
	b.WriteString("[req]\n")
	b.WriteString("distinguished_name = req_distinguished_name\n")
	b.WriteString("x509_extensions = v3_req\n")
	b.WriteString("prompt = no\n\n")

	b.WriteString("[req_distinguished_name]\n")
	fmt.Fprintf(&b, "C = %s\n", s.Country)
	fmt.Fprintf(&b, "ST = %s\n", s.State)
	fmt.Fprintf(&b, "L = %s\n", s.City)
	fmt.Fprintf(&b, "O = %s\n", s.Org)
	fmt.Fprintf(&b, "OU = %s\n", s.OrgUnit)
	fmt.Fprintf(&b, "CN = %s\n", r.Address)
	fmt.Fprintf(&b, "emailAddress = %s\n\n", s.Email)

	b.WriteString("[v3_ca]\n")
	b.WriteString("subjectKeyIdentifier = hash\n")
	b.WriteString("authorityKeyIdentifier = keyid:always,issuer:always\n")
	b.WriteString("basicConstraints = CA:TRUE\n\n")

	b.WriteString("[v3_req]\n")
	b.WriteString("keyUsage = nonRepudiation, digitalSignature, keyEncipherment, dataEncipherment\n")
	b.WriteString("extendedKeyUsage = serverAuth\n")
	b.WriteString("subjectAltName = @alt_names\n\n")

	b.WriteString("[alt_names]\n")
	for _, e := range SANs(r.Address, r.Additional) {
		b.WriteString(e + "\n")
	}
	return b.String()
}

// Validate rejects requests openssl would choke on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("server address is required")
	}
	if len(r.Subject.Country) != 2 {
		return fmt.Errorf("country must be a two letter code, got %q", r.Subject.Country)
	}
	for _, v := range []string{r.Address, r.Subject.State, r.Subject.City, r.Subject.Org, r.Subject.OrgUnit, r.Subject.Email} {
		if strings.ContainsAny(v, "\n\r") {
			return fmt.Errorf("certificate fields must not contain line breaks")
		}
	}
	return nil
}

// DetectAddress returns the first non-loopback IPv4 address of the host,
// or 127.0.0.1.
func DetectAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
