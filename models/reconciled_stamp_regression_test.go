package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// The reconciled stamp must live and die with the transaction that confirms
// the match. A stamp written on a separate connection would survive a
// rollback and leave an unmatched invoice looking reconciled.
func TestMarkEntityReconciledRollsBackWithTransaction(t *testing.T) {
	setupIntegrationDB(t)

	businessId := "biz-reconcile-tx"
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	db := config.GetDB()

	invoice := models.SalesInvoice{
		ID:            uuid.NewString(),
		BusinessId:    businessId,
		AccountId:     uuid.NewString(),
		InvoiceNumber: "INV-1001",
		CustomerName:  "Acme Corp",
		OpenBalance:   125000,
		Currency:      "USD",
		InvoiceDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.WithContext(ctx).Create(&invoice).Error; err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	induced := errors.New("induced failure after stamping")
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.MarkEntityReconciled(tx, ctx, models.EntityKindSalesInvoice, invoice.ID, time.Now()); err != nil {
			return err
		}
		return induced
	})
	if !errors.Is(err, induced) {
		t.Fatalf("expected the induced error, got %v", err)
	}

	var got models.SalesInvoice
	if err := db.WithContext(ctx).Where("id = ?", invoice.ID).First(&got).Error; err != nil {
		t.Fatalf("fetch invoice: %v", err)
	}
	if got.ReconciledAt != nil {
		t.Fatalf("rollback must discard the reconciled stamp, got %v", got.ReconciledAt)
	}
}

// setupIntegrationDB boots a throwaway MySQL container and points the config
// singletons at it.
func setupIntegrationDB(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "erp_test")

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	models.MigrateTable()
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("erp-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=erp_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
