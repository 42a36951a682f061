package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/jaywantadh/msgvault/internal/compressor"
	"github.com/jaywantadh/msgvault/internal/encryptor"
	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/internal/storage"
	"github.com/jaywantadh/msgvault/internal/transfer"
	"github.com/jaywantadh/msgvault/pkg/logging"
)

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func main() {
	input := flag.String("in", "", "file to round-trip (default: random data)")
	size := flag.String("size", "5MiB", "size of the random file when -in is empty")
	part := flag.String("part", "1MiB", "part size")
	storeURL := flag.String("store", "mem://", "storage location")
	password := flag.String("password", "testpass", "sealing password, empty to disable")
	flag.Parse()

	logging.InitLogger(true)
	ctx := context.Background()

	work, err := os.MkdirTemp("", "msgvault-manual-")
	if err != nil {
		fmt.Printf("❌ Temp dir failed: %v\n", err)
		return
	}
	defer os.RemoveAll(work)

	inputPath := *input
	if inputPath == "" {
		n, err := humanize.ParseBytes(*size)
		if err != nil {
			fmt.Printf("❌ Bad size: %v\n", err)
			return
		}
		inputPath = filepath.Join(work, "sample.bin")
		f, err := os.Create(inputPath)
		if err != nil {
			fmt.Printf("❌ Create sample failed: %v\n", err)
			return
		}
		_, err = io.CopyN(f, rand.Reader, int64(n))
		f.Close()
		if err != nil {
			fmt.Printf("❌ Write sample failed: %v\n", err)
			return
		}
	}
	partSize, err := humanize.ParseBytes(*part)
	if err != nil {
		fmt.Printf("❌ Bad part size: %v\n", err)
		return
	}

	origHash, err := sha256File(inputPath)
	if err != nil {
		fmt.Printf("❌ Failed hashing original: %v\n", err)
		return
	}
	fmt.Printf("📄 Original file: %s\n", inputPath)
	fmt.Printf("🔑 Original SHA256: %s\n", origHash)

	store, err := storage.Open(ctx, *storeURL)
	if err != nil {
		fmt.Printf("❌ Storage init failed: %v\n", err)
		return
	}
	defer storage.Close(store)
	ledger, err := metadata.OpenLedger(filepath.Join(work, "ledger"))
	if err != nil {
		fmt.Printf("❌ Ledger init failed: %v\n", err)
		return
	}
	defer ledger.Close()

	codec := transfer.Codec{Compression: compressor.Zstd}
	if *password != "" {
		if codec.Sealer, err = encryptor.NewSealer(*password); err != nil {
			fmt.Printf("❌ Sealer init failed: %v\n", err)
			return
		}
	}
	ctrl := transfer.NewController(ledger, store,
		transfer.WithPartSize(int64(partSize)),
		transfer.WithCodec(codec),
		transfer.WithVerifyUploads(true),
		transfer.WithLogger(logging.Logger()),
	)

	rec, err := ctrl.Upload(ctx, inputPath)
	if err != nil {
		fmt.Printf("❌ Upload failed: %v\n", err)
		return
	}
	fmt.Printf("🧩 Parts uploaded: %d | FileID: %s\n", rec.TotalParts, rec.ID)

	outPath := filepath.Join(work, "reassembled.bin")
	if err := ctrl.DownloadTo(ctx, rec.ID, outPath); err != nil {
		fmt.Printf("❌ Download failed: %v\n", err)
		return
	}

	reHash, err := sha256File(outPath)
	if err != nil {
		fmt.Printf("❌ Failed hashing reassembled: %v\n", err)
		return
	}
	fmt.Printf("📦 Reassembled file: %s\n", outPath)
	fmt.Printf("🔑 Reassembled SHA256: %s\n", reHash)

	if reHash == origHash {
		fmt.Println("✅ SUCCESS: Reassembled file matches original")
	} else {
		fmt.Println("❌ MISMATCH: Reassembled file differs from original")
	}
}
