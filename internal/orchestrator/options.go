package orchestrator

import (
	"strconv"
	"strings"

	"go-udevil/internal/classify"
	"go-udevil/internal/mnterr"
	"go-udevil/internal/netshare"
	"go-udevil/internal/policy"
)

// assembleOptions implements §4.5 "Options assembly": remount passes the
// caller's options through verbatim; otherwise default_options (or the
// built-in default) is followed by the caller's options and then by any
// network-type-specific options synthesized from the parsed URL, with
// $UID/$GID/$USER expanded once at the end.
func assembleOptions(snap *policy.Snapshot, target *classify.Target, fstype, userOptions string, ctx policy.ExpandContext) string {
	if hasOption(userOptions, "remount") {
		return userOptions
	}

	base := snap.List(policy.CategoryDefaultOptions, fstype)
	var parts []string
	if len(base) > 0 {
		parts = append(parts, base...)
	} else {
		parts = append(parts, "nosuid", "noexec", "nodev", "user=$USER", "uid=$UID", "gid=$GID")
	}
	if userOptions != "" {
		parts = append(parts, splitOptions(userOptions)...)
	}
	parts = append(parts, synthesizeNetworkOptions(target, fstype)...)

	return expandOptionList(parts, ctx)
}

// synthesizeNetworkOptions applies the per-filesystem synthesis table for
// a NetworkShare target; every other target kind contributes nothing.
func synthesizeNetworkOptions(target *classify.Target, fstype string) []string {
	if target == nil || target.Kind != classify.KindNetworkShare {
		return nil
	}
	u := target.Network

	switch netshare.Type(fstype) {
	case netshare.FTPFS:
		opts := []string{"ip=" + u.Addr}
		if u.User != "" {
			opts = append(opts, "user="+u.User)
		}
		if u.Password != "" {
			opts = append(opts, `pass="`+u.Password+`"`)
		}
		if u.Port != "" {
			opts = append(opts, "port="+u.Port)
		}
		if u.Path != "" && u.Path != "/" {
			opts = append(opts, `root="`+u.Path+`"`)
		}
		return opts

	case netshare.CURLFTPFS:
		if u.User != "" {
			return []string{"user=" + u.User + ":" + u.Password}
		}
		return nil

	case netshare.NFS:
		if u.Port != "" {
			return []string{"port=" + u.Port}
		}
		return nil

	case netshare.CIFS, netshare.SMBFS:
		return cifsOptions(u)

	case netshare.SSHFS:
		if u.Port != "" {
			return []string{"port=" + u.Port}
		}
		return nil

	case netshare.DAVFS:
		return nil

	default:
		return nil
	}
}

// cifsOptions implements the cifs/smbfs row: the username is split on "/"
// into user and domain, password and port follow if present.
func cifsOptions(u *netshare.URL) []string {
	if u.User == "" {
		return nil
	}
	var opts []string
	if slash := strings.Index(u.User, "/"); slash >= 0 {
		opts = append(opts, "user="+u.User[:slash], "domain="+u.User[slash+1:])
	} else {
		opts = append(opts, "user="+u.User)
	}
	if u.Password != "" {
		opts = append(opts, "password="+u.Password)
	}
	if u.Port != "" {
		opts = append(opts, "port="+u.Port)
	}
	return opts
}

// cifsCredentialFallbacks returns the two option strings the orchestrator
// tries in order when a cifs/smbfs target carried no credentials: first
// "guest", then "user=<caller>" (§4.5 "For cifs/smbfs with no credentials
// supplied"). Each is returned only if the corresponding option would pass
// allowed_options, since the caller decides which fallbacks are legal.
func cifsCredentialFallbacks(snap *policy.Snapshot, fstype, caller string) []string {
	var fallbacks []string
	if _, ok := policy.OptionCheck(snap, policy.CategoryAllowedOptions, fstype, "guest"); ok {
		fallbacks = append(fallbacks, "guest")
	}
	userOpt := "user=" + caller
	if _, ok := policy.OptionCheck(snap, policy.CategoryAllowedOptions, fstype, userOpt); ok {
		fallbacks = append(fallbacks, userOpt)
	}
	return fallbacks
}

func hasOption(options, name string) bool {
	for _, o := range splitOptions(options) {
		if o == name {
			return true
		}
	}
	return false
}

func splitOptions(options string) []string {
	var out []string
	for _, o := range strings.Split(options, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func expandOptionList(parts []string, ctx policy.ExpandContext) string {
	joined := strings.Join(parts, ",")
	joined = strings.ReplaceAll(joined, "$USER", ctx.User)
	joined = strings.ReplaceAll(joined, "$UID", strconv.Itoa(ctx.UID))
	joined = strings.ReplaceAll(joined, "$GID", strconv.Itoa(ctx.GID))
	return joined
}

// validateOptionString implements policy-gate check 7: no whitespace or
// backslash anywhere in the option string, and every option matched by
// allowed_options.
func validateOptionString(snap *policy.Snapshot, fstype, options string) error {
	if strings.ContainsAny(options, " \t\n\\") {
		return mnterr.Denied(policy.CategoryAllowedOptions, "option string %q contains whitespace or a backslash", options)
	}
	if failed, ok := policy.OptionCheck(snap, policy.CategoryAllowedOptions, fstype, options); !ok {
		return mnterr.Denied(policy.CategoryAllowedOptions, "option %q is not permitted for filesystem type %q", failed, fstype)
	}
	return nil
}
