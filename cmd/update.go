package cmd

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

const releasesURL = "https://api.github.com/repos/skyops/txctl/releases"

var updateCmd = &cobra.Command{
	Use:          "update",
	Short:        "Update txctl to the latest release",
	Long:         `Check GitHub for a newer txctl release, download the binary for this platform, verify its checksum and replace the running executable in place.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		prerelease, _ := cmd.Flags().GetBool("prerelease")
		return runUpdate(force, prerelease)
	},
}

func init() {
	updateCmd.Flags().BoolP("force", "f", false, "Reinstall even when already on the latest version")
	updateCmd.Flags().Bool("prerelease", false, "Consider pre-release versions")
}

type releaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

type release struct {
	TagName    string         `json:"tag_name"`
	Prerelease bool           `json:"prerelease"`
	Assets     []releaseAsset `json:"assets"`
}

// assetURL returns the download URL of a named asset, or "" when the release
// does not carry it.
func (r *release) assetURL(name string) string {
	for _, a := range r.Assets {
		if a.Name == name {
			return a.DownloadURL
		}
	}
	return ""
}

func runUpdate(force, prerelease bool) error {
	fmt.Println("🔄 Checking for updates...")

	rel, err := latestRelease(prerelease)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}

	current := strings.TrimPrefix(version, "v")
	latest := strings.TrimPrefix(rel.TagName, "v")
	fmt.Printf("Current version: %s\n", current)
	fmt.Printf("Latest version: %s\n", latest)

	if !force && compareVersions(latest, current) <= 0 {
		fmt.Println("✅ Already on the latest version")
		return nil
	}

	fmt.Printf("📥 Updating to %s...\n", rel.TagName)
	if err := installRelease(rel); err != nil {
		return err
	}

	fmt.Printf("✅ Updated to %s\n", rel.TagName)
	return nil
}

// releaseClient builds the HTTP client used for release traffic. GitHub's
// API and asset CDN are flaky enough that one-shot requests fail update runs
// needlessly.
func releaseClient(timeout time.Duration) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	return client.StandardClient()
}

// latestRelease returns the newest release, skipping pre-releases unless
// asked for them. The GitHub API lists releases newest-first.
func latestRelease(prerelease bool) (*release, error) {
	resp, err := releaseClient(30 * time.Second).Get(releasesURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to decode release listing: %w", err)
	}

	for i := range releases {
		if releases[i].Prerelease && !prerelease {
			continue
		}
		return &releases[i], nil
	}
	return nil, fmt.Errorf("no suitable release found")
}

// compareVersions orders two dotted version strings numerically: negative
// when a < b, zero when equal, positive when a > b. Missing parts count as
// zero, so "0.3" equals "0.3.0".
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		if an != bn {
			return an - bn
		}
	}
	return 0
}

// assetName is the release asset for this platform. Releases ship raw
// binaries, one per GOOS/GOARCH pair.
func assetName() string {
	return fmt.Sprintf("txctl-%s-%s", runtime.GOOS, runtime.GOARCH)
}

// installRelease downloads the platform binary, verifies it against the
// release's checksum manifest and swaps it in for the running executable.
func installRelease(rel *release) error {
	name := assetName()
	url := rel.assetURL(name)
	if url == "" {
		return fmt.Errorf("release %s has no binary for %s/%s", rel.TagName, runtime.GOOS, runtime.GOARCH)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate running executable: %w", err)
	}

	// Stage next to the target so the final rename stays on one filesystem.
	staged := exe + ".new"
	defer func() {
		_ = os.Remove(staged)
	}()

	fmt.Println("📦 Downloading binary...")
	sum, err := downloadTo(url, staged)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", name, err)
	}

	if sumsURL := rel.assetURL("checksums.txt"); sumsURL != "" {
		fmt.Println("🔍 Verifying checksum...")
		manifest, err := fetchBytes(sumsURL)
		if err != nil {
			return fmt.Errorf("failed to download checksum manifest: %w", err)
		}
		want, err := checksumFor(manifest, name)
		if err != nil {
			return err
		}
		if sum != want {
			return fmt.Errorf("checksum mismatch for %s: manifest says %s, downloaded %s", name, want, sum)
		}
		fmt.Println("✅ Checksum verified")
	} else {
		fmt.Println("⚠️  Release carries no checksum manifest; skipping verification")
	}

	if err := os.Rename(staged, exe); err != nil {
		return fmt.Errorf("failed to replace binary: %w", err)
	}
	return nil
}

// downloadTo streams a URL into dest with mode 0755, returning the sha256 of
// the written bytes so verification never re-reads the file.
func downloadTo(url, dest string) (string, error) {
	resp, err := releaseClient(5 * time.Minute).Get(url)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func fetchBytes(url string) ([]byte, error) {
	resp, err := releaseClient(30 * time.Second).Get(url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// checksumFor extracts the sha256 for one asset from a "hash  filename"
// manifest as produced by sha256sum.
func checksumFor(manifest []byte, asset string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(manifest)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && filepath.Base(fields[1]) == asset {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no checksum listed for %s", asset)
}
