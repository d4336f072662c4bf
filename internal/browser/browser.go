package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Open launches a browser window with an isolated profile stored in
// profileDir, pointed at url. Each project gets its own profile so
// cookies and auth sessions never bleed across projects. The profile
// directory is created lazily here.
func Open(url, profileDir string) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return fmt.Errorf("create browser profile dir: %w", err)
	}

	dataDirArg := "--user-data-dir=" + profileDir

	if runtime.GOOS == "darwin" {
		cmd := exec.Command("open", "-na", "Google Chrome", "--args", dataDirArg, url)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("open Chrome: %w (is it installed?)", err)
		}
		return nil
	}

	for _, bin := range []string{"google-chrome", "chromium", "chromium-browser"} {
		cmd := exec.Command(bin, dataDirArg, url)
		if err := cmd.Start(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no Chrome or Chromium binary found in PATH")
}
