// Package bpath splits and joins the kernel's Ustr paths into components,
// used by the named-socket table (internal/ipc/unixsock) and FIFO lookup
// (internal/ipc/pipe) to resolve a bind address to a directory entry
// without depending on the (out-of-scope) on-disk filesystem format.
package bpath

import "breenix/internal/ustr"

/// Components splits an absolute or relative path into its non-empty,
/// non-dot components. "/a//b/./c" yields {"a","b","c"}.
func Components(p ustr.Ustr) []ustr.Ustr {
	var out []ustr.Ustr
	start := 0
	flush := func(end int) {
		if end > start {
			c := p[start:end]
			if !c.Isdot() {
				out = append(out, c)
			}
		}
	}
	for i, b := range p {
		if b == '/' {
			flush(i)
			start = i + 1
		}
	}
	flush(len(p))
	return out
}

/// Join joins path components with '/', producing an absolute path.
func Join(comps []ustr.Ustr) ustr.Ustr {
	ret := ustr.MkUstrRoot()
	for i, c := range comps {
		if i == 0 {
			ret = append(ustr.Ustr{}, '/')
			ret = append(ret, c...)
			continue
		}
		ret = ret.Extend(c)
	}
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return ret
}

/// Split returns the directory and final component of p, Split-style:
/// Split("/a/b/c") -> ("/a/b", "c").
func Split(p ustr.Ustr) (dir, base ustr.Ustr) {
	comps := Components(p)
	if len(comps) == 0 {
		return ustr.MkUstrRoot(), ustr.MkUstr()
	}
	base = comps[len(comps)-1]
	dir = Join(comps[:len(comps)-1])
	return dir, base
}

/// Canonicalize resolves "." and ".." components of p (which need not be
/// absolute) against an implicit root, producing an absolute, normalized
/// path. Grounded on the teacher's fd.Cwd_t.Canonicalpath contract.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := Components(p)
	var out []ustr.Ustr
	for _, c := range comps {
		if c.Isdotdot() {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, c)
	}
	return Join(out)
}
