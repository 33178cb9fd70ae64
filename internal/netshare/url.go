// Package netshare parses a network-share target specifier into the data
// model's "Parsed network URL" (§3, §4.3 case 1): filesystem type, host,
// resolved address, optional port/user/password, remote path, and a
// canonical URL string reconstructed in the syntax each mount utility
// expects.
//
// Grounded on spec.md's scheme-to-filesystem inference table; no teacher
// or pack example parses this exact family of mount-helper URL shapes, so
// the split/resolve logic below is new code built directly against §4.3,
// using only the standard library's net and net/url packages the way the
// rest of the pack reaches for net.LookupHost/net.SplitHostPort wherever a
// name needs resolving (e.g. apptainer's network setup code).
package netshare

import (
	"net"
	"strings"

	"go-udevil/internal/mnterr"
)

// Type is the filesystem type a network share resolves to.
type Type string

const (
	CIFS      Type = "cifs"
	SMBFS     Type = "smbfs"
	NFS       Type = "nfs"
	FTPFS     Type = "ftpfs"
	CURLFTPFS Type = "curlftpfs"
	SSHFS     Type = "sshfs"
	DAVFS     Type = "davfs"
	FUSE      Type = "fuse"
)

// URL is the data model's "Parsed network URL".
type URL struct {
	Type      Type
	Host      string
	Addr      string // resolved numeric address (IPv4 or IPv6)
	Port      string
	User      string
	Password  string
	Path      string // defaults to "/"
	Canonical string // reconstructed in the exact syntax the mount utility expects
}

// HasCurlftpfs reports whether a curlftpfs-capable program is reachable on
// the sanitized PATH; callers inject this check since resolving PATH is a
// privilege-gate concern, not a netshare concern (§4.3 scheme table: "ftp:
// -> curlftpfs if that program is found on PATH else ftpfs").
type HasCurlftpfs func() bool

// LooksLikeNetworkTarget reports whether target matches one of the
// recognized network schemes or the bare host:/path / user@host:/path
// shapes, without fully parsing it — used by the classifier to decide
// whether to attempt network parsing before falling through to path
// classification (§4.3 step 1 vs step 3).
func LooksLikeNetworkTarget(target string, typeOverride string) bool {
	for _, scheme := range recognizedSchemes {
		if strings.HasPrefix(target, scheme) {
			return true
		}
	}
	if looksLikeHostPath(target) {
		return true
	}
	switch Type(typeOverride) {
	case CIFS, SMBFS, NFS, "nfs4", FTPFS, CURLFTPFS, SSHFS, DAVFS:
		return true
	}
	return false
}

var recognizedSchemes = []string{
	"smb:", "smbfs:", "cifs:", "//",
	"nfs:",
	"sshfs:", "ssh:", "sftp:",
	"ftp:",
	"http:", "https:",
	"curlftpfs#", "sshfs#",
}

// looksLikeHostPath reports whether target has the bare "host:/path" or
// "user@host:/path" shape used to infer nfs or sshfs respectively.
func looksLikeHostPath(target string) bool {
	colon := strings.Index(target, ":")
	if colon <= 0 {
		return false
	}
	rest := target[colon+1:]
	return strings.HasPrefix(rest, "/")
}

// Resolver resolves a hostname to at least one numeric address, the shape
// of net.LookupHost. Parse accepts one so tests can supply a fake resolver
// instead of depending on real DNS or /etc/hosts.
type Resolver func(host string) ([]string, error)

// Parse parses target into a URL, inferring filesystem type from scheme or
// typeOverride, splitting credentials on the last "@", handling bracketed
// IPv6 hosts, and resolving host to a numeric address via net.LookupHost.
func Parse(target, typeOverride string, hasCurlftpfs HasCurlftpfs) (*URL, error) {
	return ParseWithResolver(target, typeOverride, hasCurlftpfs, net.LookupHost)
}

// ParseWithResolver is Parse with an injectable Resolver.
func ParseWithResolver(target, typeOverride string, hasCurlftpfs HasCurlftpfs, resolve Resolver) (*URL, error) {
	fsType, rest, err := inferType(target, typeOverride, hasCurlftpfs)
	if err != nil {
		return nil, err
	}

	user, password, hostport, path := splitCredentialsHostPath(rest)
	if path == "" {
		path = "/"
	}

	if strings.ContainsAny(user, " \t\n") || strings.ContainsAny(password, " \t\n") {
		return nil, mnterr.New(mnterr.Classification, "credentials in %q must not contain whitespace", target)
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	if strings.ContainsAny(host, " \t\n") || strings.ContainsAny(port, " \t\n") {
		return nil, mnterr.New(mnterr.Classification, "host/port in %q must not contain whitespace", target)
	}

	addr, err := resolveHost(host, resolve)
	if err != nil {
		return nil, err
	}

	u := &URL{
		Type:     fsType,
		Host:     host,
		Addr:     addr,
		Port:     port,
		User:     user,
		Password: password,
		Path:     path,
	}
	u.Canonical = canonicalize(u)
	return u, nil
}

// inferType applies the scheme-to-filesystem table and strips the scheme
// prefix, returning the remainder of target to be split into
// credentials/host/path.
func inferType(target, typeOverride string, hasCurlftpfs HasCurlftpfs) (Type, string, error) {
	switch {
	case strings.HasPrefix(target, "smb:"):
		return resolveOverride(CIFS, typeOverride, CIFS, SMBFS), trimSlashes(strings.TrimPrefix(target, "smb:")), nil
	case strings.HasPrefix(target, "smbfs:"):
		return resolveOverride(SMBFS, typeOverride, CIFS, SMBFS), trimSlashes(strings.TrimPrefix(target, "smbfs:")), nil
	case strings.HasPrefix(target, "cifs:"):
		return resolveOverride(CIFS, typeOverride, CIFS, SMBFS), trimSlashes(strings.TrimPrefix(target, "cifs:")), nil
	case strings.HasPrefix(target, "//"):
		return resolveOverride(CIFS, typeOverride, CIFS, SMBFS), strings.TrimPrefix(target, "//"), nil
	case strings.HasPrefix(target, "nfs:"):
		return resolveOverride(NFS, typeOverride, NFS, "nfs4"), trimSlashes(strings.TrimPrefix(target, "nfs:")), nil
	case strings.HasPrefix(target, "sshfs#"):
		return SSHFS, strings.TrimPrefix(target, "sshfs#"), nil
	case strings.HasPrefix(target, "sshfs:"):
		return SSHFS, trimSlashes(strings.TrimPrefix(target, "sshfs:")), nil
	case strings.HasPrefix(target, "ssh:"):
		return SSHFS, trimSlashes(strings.TrimPrefix(target, "ssh:")), nil
	case strings.HasPrefix(target, "sftp:"):
		return SSHFS, trimSlashes(strings.TrimPrefix(target, "sftp:")), nil
	case strings.HasPrefix(target, "curlftpfs#"):
		return CURLFTPFS, strings.TrimPrefix(target, "curlftpfs#"), nil
	case strings.HasPrefix(target, "ftp:"):
		rest := trimSlashes(strings.TrimPrefix(target, "ftp:"))
		if hasCurlftpfs != nil && hasCurlftpfs() {
			return CURLFTPFS, rest, nil
		}
		return FTPFS, rest, nil
	case strings.HasPrefix(target, "http:"):
		return DAVFS, trimSlashes(strings.TrimPrefix(target, "http:")), nil
	case strings.HasPrefix(target, "https:"):
		return DAVFS, trimSlashes(strings.TrimPrefix(target, "https:")), nil
	}

	if looksLikeHostPath(target) {
		if idx := strings.Index(beforeColon(target), "@"); idx >= 0 {
			return SSHFS, target, nil
		}
		return NFS, target, nil
	}

	return "", "", mnterr.New(mnterr.Classification, "%q does not match a recognized network scheme", target)
}

// trimSlashes strips a conventional "//" following a scheme colon, so
// "smb://host/share" and the schemeless "host/share" shape both land on
// the same credentials/host/path split below.
func trimSlashes(rest string) string {
	return strings.TrimPrefix(rest, "//")
}

func beforeColon(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return s[:i]
	}
	return s
}

// resolveOverride validates that an explicit type override is consistent
// with the inferred scheme family (§4.3 table "Override must be"),
// returning the override if present and valid, otherwise the inferred
// default.
func resolveOverride(def Type, override string, allowed ...Type) Type {
	if override == "" {
		return def
	}
	for _, a := range allowed {
		if Type(override) == a {
			return Type(override)
		}
	}
	return def
}

// splitCredentialsHostPath splits "user:password@host:port/path", cutting
// credentials from host at the LAST "@" so usernames containing "@" are
// accepted, then splitting the remote path at the first "/" after the
// host portion.
func splitCredentialsHostPath(rest string) (user, password, hostport, path string) {
	at := strings.LastIndex(rest, "@")
	afterAt := rest
	if at >= 0 {
		creds := rest[:at]
		afterAt = rest[at+1:]
		if c := strings.Index(creds, ":"); c >= 0 {
			user, password = creds[:c], creds[c+1:]
		} else {
			user = creds
		}
	}

	// The path begins at the first "/" after the host, except inside a
	// bracketed IPv6 literal.
	searchFrom := 0
	if strings.HasPrefix(afterAt, "[") {
		if end := strings.Index(afterAt, "]"); end >= 0 {
			searchFrom = end
		}
	}
	if slash := strings.Index(afterAt[searchFrom:], "/"); slash >= 0 {
		hostport = afterAt[:searchFrom+slash]
		path = afterAt[searchFrom+slash:]
	} else {
		hostport = afterAt
	}
	return user, password, hostport, path
}

// splitHostPort separates a "host:port" (or bracketed "[ipv6]:port")
// string into host and port, preserving the bracketed form's colons.
func splitHostPort(hostport string) (host, port string, err error) {
	if hostport == "" {
		return "", "", mnterr.New(mnterr.Classification, "empty host in network target")
	}
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return "", "", mnterr.New(mnterr.Classification, "unterminated IPv6 literal in %q", hostport)
		}
		host = hostport[1:end]
		remainder := hostport[end+1:]
		if strings.HasPrefix(remainder, ":") {
			port = remainder[1:]
		}
		return host, port, nil
	}
	if c := strings.LastIndex(hostport, ":"); c >= 0 && !strings.Contains(hostport[c+1:], ":") {
		return hostport[:c], hostport[c+1:], nil
	}
	return hostport, "", nil
}

// resolveHost performs name resolution and returns the first numeric
// address, failing the classification if none resolves (§3 invariant
// "host must resolve to at least one IP address").
func resolveHost(host string, resolve Resolver) (string, error) {
	addrs, err := resolve(host)
	if err != nil || len(addrs) == 0 {
		return "", mnterr.Wrap(mnterr.Classification, err, "resolving host %q", host)
	}
	return addrs[0], nil
}

// canonicalize reconstructs the URL in the syntax each underlying mount
// utility expects: cifs/smbfs use a UNC-style "//host/path" source, nfs
// uses "host:/path", everything else preserves a scheme-qualified form.
func canonicalize(u *URL) string {
	hostLiteral := u.Host
	if strings.Contains(hostLiteral, ":") {
		hostLiteral = "[" + hostLiteral + "]"
	}
	switch u.Type {
	case CIFS, SMBFS:
		return "//" + hostLiteral + u.Path
	case NFS:
		return hostLiteral + ":" + u.Path
	case SSHFS:
		return hostLiteral + ":" + u.Path
	case DAVFS:
		return "http://" + hostLiteral + u.Path
	case FTPFS, CURLFTPFS:
		return "ftp://" + hostLiteral + u.Path
	default:
		return hostLiteral + u.Path
	}
}
