// Package supervisor materializes Firefox profile directories, launches
// and kills Firefox processes, and bridges process lifetime to the
// connection pool's session routing.
package supervisor

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
)

// firefoxPrefs is written verbatim as the profile's user.js. It disables
// Marionette/devtools remote protocol (the core speaks its own
// WebSocket protocol through the extension, not CDP/Marionette),
// suppresses first-run flows and telemetry, and turns off extension
// signing enforcement so the driver's own unsigned xpi loads.
const firefoxPrefs = `user_pref("devtools.debugger.remote-enabled", false);
user_pref("marionette.enabled", false);
user_pref("browser.shell.checkDefaultBrowser", false);
user_pref("browser.startup.homepage_override.mstone", "ignore");
user_pref("browser.warnOnQuit", false);
user_pref("datareporting.policy.dataSubmissionEnabled", false);
user_pref("toolkit.telemetry.reportingpolicy.firstRun", false);
user_pref("xpinstall.signatures.required", false);
user_pref("extensions.autoDisableScopes", 0);
`

// ExtensionSource describes where the companion browser extension comes
// from: exactly one field is populated.
type ExtensionSource struct {
	// Dir is a path to an unpacked extension directory.
	Dir string
	// XPIPath is a path to a packed .xpi file.
	XPIPath string
	// XPIBytes is a base64-encoded xpi payload, used when the caller has
	// the extension embedded rather than on disk.
	XPIBytes string
}

// ProxyPrefs are window-level proxy preferences written into the
// profile before launch. A later proxy.setWindowProxy command overwrites
// these at runtime; the profile-level value only governs the window's
// initial state.
type ProxyPrefs struct {
	Host string
	Port int
}

// Profile is a materialized, on-disk Firefox profile directory.
type Profile struct {
	Path      string
	Ephemeral bool
}

// MaterializeProfile builds a profile directory on fs: if explicitPath is
// non-empty it is used as-is (never deleted by Close); otherwise a fresh
// temporary directory is created and populated with user.js, an
// extensions/ directory containing ext, and any proxy prefs.
func MaterializeProfile(fs afero.Fs, explicitPath string, ext ExtensionSource, proxy *ProxyPrefs) (*Profile, error) {
	if explicitPath != "" {
		return &Profile{Path: explicitPath, Ephemeral: false}, nil
	}

	dir, err := afero.TempDir(fs, "", "fxdriver-profile-")
	if err != nil {
		return nil, common.NewProfileError(fmt.Sprintf("create profile dir: %v", err))
	}

	prefs := firefoxPrefs
	if proxy != nil {
		prefs += "user_pref(\"network.proxy.type\", 1);\n"
		prefs += fmt.Sprintf("user_pref(\"network.proxy.http\", %q);\n", proxy.Host)
		prefs += fmt.Sprintf("user_pref(\"network.proxy.http_port\", %d);\n", proxy.Port)
		prefs += fmt.Sprintf("user_pref(\"network.proxy.ssl\", %q);\n", proxy.Host)
		prefs += fmt.Sprintf("user_pref(\"network.proxy.ssl_port\", %d);\n", proxy.Port)
	}
	if err := afero.WriteFile(fs, dir+"/user.js", []byte(prefs), 0o600); err != nil {
		return nil, common.NewProfileError(fmt.Sprintf("write user.js: %v", err))
	}

	extDir := dir + "/extensions"
	if err := fs.MkdirAll(extDir, 0o700); err != nil {
		return nil, common.NewProfileError(fmt.Sprintf("create extensions dir: %v", err))
	}
	if err := installExtension(fs, extDir, ext); err != nil {
		return nil, err
	}

	return &Profile{Path: dir, Ephemeral: true}, nil
}

// installExtension places ext into extDir under the driver's well-known
// extension id filename, either by copying an unpacked directory's
// contents, copying a packed xpi, or decoding base64 xpi bytes to disk.
func installExtension(fs afero.Fs, extDir string, ext ExtensionSource) error {
	const extID = "fxdriver@control-core"

	switch {
	case ext.Dir != "":
		return copyTree(fs, ext.Dir, extDir+"/"+extID)
	case ext.XPIPath != "":
		return copyFile(fs, ext.XPIPath, extDir+"/"+extID+".xpi")
	case ext.XPIBytes != "":
		raw, err := base64.StdEncoding.DecodeString(ext.XPIBytes)
		if err != nil {
			return common.NewProfileError(fmt.Sprintf("decode xpi bytes: %v", err))
		}
		if err := afero.WriteFile(fs, extDir+"/"+extID+".xpi", raw, 0o600); err != nil {
			return common.NewProfileError(fmt.Sprintf("write xpi: %v", err))
		}
		return nil
	default:
		return common.NewConfigError("no extension source configured")
	}
}

func copyFile(fs afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		// The extension source may live on the real OS filesystem even
		// when fs is a test double; fall back to the OS for reads.
		osData, osErr := os.ReadFile(src)
		if osErr != nil {
			return common.NewProfileError(fmt.Sprintf("read extension source %s: %v", src, err))
		}
		data = osData
	}
	if err := afero.WriteFile(fs, dst, data, 0o600); err != nil {
		return common.NewProfileError(fmt.Sprintf("write extension to profile: %v", err))
	}
	return nil
}

func copyTree(fs afero.Fs, srcDir, dstDir string) error {
	if err := fs.MkdirAll(dstDir, 0o700); err != nil {
		return common.NewProfileError(fmt.Sprintf("create extension dir: %v", err))
	}
	osEntries, err := os.ReadDir(srcDir)
	if err != nil {
		return common.NewProfileError(fmt.Sprintf("read extension directory %s: %v", srcDir, err))
	}
	for _, entry := range osEntries {
		if entry.IsDir() {
			if err := copyTree(fs, srcDir+"/"+entry.Name(), dstDir+"/"+entry.Name()); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(fs, srcDir+"/"+entry.Name(), dstDir+"/"+entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the profile directory iff it was created by
// MaterializeProfile (never touches a caller-supplied explicit path).
func (p *Profile) Remove(fs afero.Fs) error {
	if !p.Ephemeral {
		return nil
	}
	if err := fs.RemoveAll(p.Path); err != nil {
		return common.NewProfileError(fmt.Sprintf("remove profile dir: %v", err))
	}
	return nil
}
