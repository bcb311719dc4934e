// Provision creates an org, a store, its cameras, and an edge credential in
// one shot. The minted API key is printed once and never recoverable, so
// capture it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/winklabs/storepulse/internal/detector"
	"github.com/winklabs/storepulse/internal/store"
)

func main() {
	logger := log.New(log.Writer(), "[PROVISION] ", log.LstdFlags)

	orgID := flag.String("org", "", "org id (required)")
	orgName := flag.String("org-name", "", "org display name (defaults to org id)")
	storeID := flag.String("store", "", "store id (required)")
	storeName := flag.String("store-name", "", "store display name (defaults to store id)")
	timezone := flag.String("timezone", "UTC", "store timezone")
	cameras := flag.String("cameras", "", "comma-separated camera ids (required)")
	entrance := flag.String("entrance", "", "camera id that counts for footfall")
	cameraScope := flag.String("camera-scope", "", "restrict the credential to one camera")
	flag.Parse()

	if *orgID == "" || *storeID == "" || *cameras == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("❌ DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := store.Open(ctx, dsn)
	if err != nil {
		logger.Fatalf("❌ Database connection failed: %v", err)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		logger.Fatalf("❌ Schema init failed: %v", err)
	}

	if *orgName == "" {
		*orgName = *orgID
	}
	if *storeName == "" {
		*storeName = *storeID
	}

	if err := st.CreateOrg(ctx, *orgID, *orgName); err != nil {
		logger.Fatalf("❌ %v", err)
	}
	if err := st.CreateStore(ctx, *storeID, *orgID, *storeName, *timezone); err != nil {
		logger.Fatalf("❌ %v", err)
	}
	logger.Printf("✅ Org %s / store %s ready", *orgID, *storeID)

	for _, camID := range strings.Split(*cameras, ",") {
		camID = strings.TrimSpace(camID)
		if camID == "" {
			continue
		}
		cam := store.Camera{
			CameraID:     camID,
			OrgID:        *orgID,
			StoreID:      *storeID,
			Name:         camID,
			IsEntrance:   camID == *entrance,
			Capabilities: []string{detector.CapEntrance, detector.CapZones, detector.CapShelves, detector.CapQueue},
		}
		if err := st.CreateCamera(ctx, cam); err != nil {
			logger.Fatalf("❌ %v", err)
		}
		logger.Printf("📷 Camera %s created (entrance=%v)", camID, cam.IsEntrance)
	}

	token, err := st.CreateCredential(ctx, *orgID, *storeID, *cameraScope)
	if err != nil {
		logger.Fatalf("❌ Credential mint failed: %v", err)
	}

	fmt.Println()
	fmt.Println("Edge API key (shown once, store it now):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()
}
