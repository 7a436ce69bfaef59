package cms

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/webkontor/sitecms/cms/blob"
	"github.com/webkontor/sitecms/core"
	"github.com/webkontor/sitecms/core/access"
	"github.com/webkontor/sitecms/core/client"
	"github.com/webkontor/sitecms/core/csql"
	"github.com/webkontor/sitecms/core/registry"
)

var contactPageSchema = `{
	"$id": "` + ContactPageSchemaID + `",
	"type": "object",
	"properties": {
		"address_lines": {"type": "array", "items": {"type": "string"}}
	}
}`

// TestService holds the configuration for the test run
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"; without POSTGRES a throwaway postgres
// container is started instead.
type TestService struct {
	Postgres         string `env:"POSTGRES,default=" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=" description:"password to the Postgres DB"`
	backend          *Backend
	client           client.Client
	notifier         *recordingNotifier
}

var testService TestService

// recordingNotifier collects notifications in memory
type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []string
}

func (n *recordingNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	n.mutex.Lock()
	n.notifications = append(n.notifications, string(operation)+" "+resource)
	n.mutex.Unlock()
}

func (n *recordingNotifier) contains(key string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	for _, notification := range n.notifications {
		if notification == key {
			return true
		}
	}
	return false
}

func asJSON(object interface{}) string {
	j, _ := json.Marshal(object)
	return string(j)
}

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	var terminate func()
	if testService.Postgres == "" {
		ctx := context.Background()
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:15",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "testuser",
					"POSTGRES_PASSWORD": "testpass",
					"POSTGRES_DB":       "testdb",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			},
			Started: true,
		})
		if err != nil {
			panic(err)
		}
		host, err := container.Host(ctx)
		if err != nil {
			panic(err)
		}
		port, err := container.MappedPort(ctx, "5432")
		if err != nil {
			panic(err)
		}
		testService.Postgres = fmt.Sprintf("host=%s port=%s user=testuser dbname=testdb sslmode=disable", host, port.Port())
		testService.PostgresPassword = "testpass"
		terminate = func() { container.Terminate(ctx) }
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_cms_unit_test_")
	db.ClearSchema()

	uploadFolder, err := os.MkdirTemp("", "sitecms-uploads")
	if err != nil {
		panic(err)
	}
	uploads, err := blob.NewLocalFilesystem(uploadFolder)
	if err != nil {
		panic(err)
	}

	testService.notifier = &recordingNotifier{}
	router := mux.NewRouter()
	testService.backend = New(&Builder{
		DB:          db,
		Router:      router,
		Notifier:    testService.notifier,
		Uploads:     uploads,
		JSONSchemas: []string{contactPageSchema},
	})

	reg := registry.New(db)
	tokens, err := access.NewTokenAuth(&access.TokenAuthBuilder{Registry: reg})
	if err != nil {
		panic(err)
	}
	router.Use(tokens.Middleware())
	access.HandleLoginRoute(router, db, tokens)
	if err := access.EnsureAccount(db, "admin", "test-password", "admin"); err != nil {
		panic(err)
	}

	testService.client = client.NewWithRouter(router).WithAdminAuthorization()

	code := m.Run()
	db.Close()
	os.RemoveAll(uploadFolder)
	if terminate != nil {
		terminate()
	}
	os.Exit(code)
}

type Subcategory struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

type ProductCategory struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	Slug          string        `json:"slug"`
	SortOrder     int           `json:"sort_order"`
	IsActive      bool          `json:"is_active"`
	Subcategories []Subcategory `json:"subcategories"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Product struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	CtaURL      string    `json:"cta_url"`
	SortOrder   int       `json:"sort_order"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type News struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ImageURL  string `json:"image_url"`
	SortOrder int    `json:"sort_order"`
	IsActive  bool   `json:"is_active"`
}

type ServiceCategory struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	SortOrder int    `json:"sort_order"`
	IsActive  bool   `json:"is_active"`
}

func TestCreateGetWithDefaults(t *testing.T) {
	pc := ProductCategory{}
	_, err := testService.client.RawPost("/product_categories", map[string]interface{}{"title": "Hello World"}, &pc)
	if err != nil {
		t.Fatal(err)
	}
	if pc.ID == 0 {
		t.Fatal("no id")
	}
	assert.Equal(t, "Hello World", pc.Title)
	assert.Equal(t, "hello-world", pc.Slug)
	assert.Equal(t, 0, pc.SortOrder)
	assert.True(t, pc.IsActive)
	assert.Equal(t, []Subcategory{}, pc.Subcategories)

	pcGet := ProductCategory{}
	_, err = testService.client.RawGet(fmt.Sprintf("/product_categories/%d", pc.ID), &pcGet)
	if err != nil {
		t.Fatal(err)
	}
	if pc.ID != pcGet.ID || pc.Title != pcGet.Title || pc.Slug != pcGet.Slug {
		t.Fatal("unexpected result:", asJSON(pcGet), "expected:", asJSON(pc))
	}
}

func TestSlugFallback(t *testing.T) {
	first := ServiceCategory{}
	second := ServiceCategory{}
	_, err := testService.client.RawPost("/service_categories", map[string]interface{}{}, &first)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawPost("/service_categories", map[string]interface{}{"title": ""}, &second)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, strings.HasPrefix(first.Slug, "no-title-"), first.Slug)
	assert.True(t, strings.HasPrefix(second.Slug, "no-title-"), second.Slug)
	assert.NotEqual(t, first.Slug, second.Slug)
}

func TestSlugConflict(t *testing.T) {
	payload := map[string]interface{}{"title": "Pumps", "slug": "pumps-fixed"}
	_, err := testService.client.RawPost("/service_categories", payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	status, _ := testService.client.RawPost("/service_categories", payload, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestProductRequiredFields(t *testing.T) {
	status, _ := testService.client.RawPost("/products", map[string]interface{}{"name": "Pump X20"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = testService.client.RawPost("/products", map[string]interface{}{"category": "Pumps"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	product := Product{}
	_, err := testService.client.RawPost("/products",
		map[string]interface{}{"category": "Pumps", "name": "Pump X20"}, &product)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Pumps", product.Category)
	assert.Equal(t, "Pump X20", product.Name)
	assert.Equal(t, "", product.Description)
	assert.Equal(t, 0, product.SortOrder)
	assert.True(t, product.IsActive)
}

func TestPartialUpdate(t *testing.T) {
	sc := ServiceCategory{}
	_, err := testService.client.RawPost("/service_categories", map[string]interface{}{"title": "Maintenance"}, &sc)
	if err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("/service_categories/%d", sc.ID)

	// empty payload is a no-op, not a failure
	status, err := testService.client.RawPatch(path, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusNoContent, status)

	// unknown fields are dropped, never forwarded into the mutation
	status, err = testService.client.RawPatch(path, map[string]interface{}{"bogus_column": "x; DROP TABLE"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusNoContent, status)

	// an explicit null is treated like an absent field
	status, err = testService.client.RawPatch(path, map[string]interface{}{"is_active": nil, "sort_order": nil}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusNoContent, status)

	unchanged := ServiceCategory{}
	_, err = testService.client.RawGet(path, &unchanged)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, sc, unchanged)

	// a new title renames the slug; the null rider is skipped
	updated := ServiceCategory{}
	_, err = testService.client.RawPatch(path, map[string]interface{}{"title": "Repairs", "is_active": nil}, &updated)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Repairs", updated.Title)
	assert.Equal(t, "repairs", updated.Slug)
	assert.Equal(t, sc.ID, updated.ID)

	// a pinned slug survives a title change
	_, err = testService.client.RawPatch(path, map[string]interface{}{"title": "Repair Work", "slug": "repairs"}, &updated)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Repair Work", updated.Title)
	assert.Equal(t, "repairs", updated.Slug)

	// identity is immutable via this path
	_, err = testService.client.RawPatch(path, map[string]interface{}{"id": 99999, "title": "Still Repairs"}, &updated)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, sc.ID, updated.ID)

	status, _ = testService.client.RawPatch("/service_categories/999999", map[string]interface{}{"title": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStructuredRoundTrip(t *testing.T) {
	subcategories := []Subcategory{
		{Title: "Submersible", Slug: "submersible"},
		{Title: "Rotary", Slug: "rotary"},
		{Title: "Axial", Slug: "axial"},
	}
	pc := ProductCategory{}
	_, err := testService.client.RawPost("/product_categories",
		map[string]interface{}{"title": "Industrial Pumps", "subcategories": subcategories}, &pc)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, subcategories, pc.Subcategories)

	pcGet := ProductCategory{}
	_, err = testService.client.RawGet(fmt.Sprintf("/product_categories/%d", pc.ID), &pcGet)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, subcategories, pcGet.Subcategories)

	// update replaces the list, order preserved
	reordered := []Subcategory{subcategories[2], subcategories[0]}
	updated := ProductCategory{}
	_, err = testService.client.RawPatch(fmt.Sprintf("/product_categories/%d", pc.ID),
		map[string]interface{}{"subcategories": reordered}, &updated)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, reordered, updated.Subcategories)
}

func TestListOrdering(t *testing.T) {
	titles := []string{"third", "first", "tie-a", "tie-b"}
	sortOrders := []int{2, 0, 1, 1}
	for i := range titles {
		_, err := testService.client.RawPost("/news",
			map[string]interface{}{"title": titles[i], "sort_order": sortOrders[i]}, nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	var collection []News
	_, err := testService.client.RawGet("/news", &collection)
	if err != nil {
		t.Fatal(err)
	}
	if len(collection) < 4 {
		t.Fatal("unexpected number of items in collection:", asJSON(collection))
	}
	assert.Equal(t, "first", collection[0].Title)
	// ties keep insertion order
	assert.Equal(t, "tie-a", collection[1].Title)
	assert.Equal(t, "tie-b", collection[2].Title)
	assert.Equal(t, "third", collection[3].Title)
	for i := 1; i < len(collection); i++ {
		assert.GreaterOrEqual(t, collection[i].SortOrder, collection[i-1].SortOrder)
	}
}

func TestListActiveFilter(t *testing.T) {
	type Service struct {
		ID       int64  `json:"id"`
		Title    string `json:"title"`
		IsActive bool   `json:"is_active"`
	}
	_, err := testService.client.RawPost("/services", map[string]interface{}{"title": "visible"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawPost("/services", map[string]interface{}{"title": "hidden", "is_active": false}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var collection []Service
	_, err = testService.client.RawGet("/services?active=true", &collection)
	if err != nil {
		t.Fatal(err)
	}
	if len(collection) == 0 {
		t.Fatal("no services in collection")
	}
	for _, service := range collection {
		assert.True(t, service.IsActive, service.Title)
	}

	// anything but active=true is rejected, same as unknown parameters
	status, _ := testService.client.RawGet("/services?active=false", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = testService.client.RawGet("/services?stale=true", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDelete(t *testing.T) {
	logo := struct {
		ID int64 `json:"id"`
	}{}
	_, err := testService.client.RawPost("/customer_logos", map[string]interface{}{"name": "ACME"}, &logo)
	if err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("/customer_logos/%d", logo.ID)

	_, err = testService.client.RawDelete(path)
	if err != nil {
		t.Fatal(err)
	}
	status, _ := testService.client.RawGet(path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = testService.client.RawDelete(path)
	assert.Equal(t, http.StatusNotFound, status)
}

func contactPagePayload(heading string) map[string]interface{} {
	return map[string]interface{}{
		"heading":            heading,
		"description":        "Get in touch",
		"email":              "info@example.com",
		"phone":              "+49 30 1234567",
		"messenger_label":    "WhatsApp",
		"messenger_url":      "https://wa.me/49301234567",
		"messenger_icon_url": "/uploads/wa.png",
		"address_lines":      []string{"Musterstraße 1", "10115 Berlin", "Germany"},
		"open_hours":         "Mo-Fr 9-17",
		"map_title":          "Our office",
		"map_embed_url":      "https://maps.example.com/embed/1",
	}
}

func TestContactPage(t *testing.T) {
	// the page always exists conceptually
	var empty map[string]interface{}
	status, err := testService.client.RawGet("/contact_page", &empty)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", empty["heading"])
	assert.Equal(t, []interface{}{}, empty["address_lines"])

	// whole-record replacement requires every field
	incomplete := contactPagePayload("Contact")
	delete(incomplete, "open_hours")
	status, _ = testService.client.RawPut("/contact_page", incomplete, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var stored map[string]interface{}
	before := time.Now().UTC().Add(-time.Second)
	_, err = testService.client.RawPut("/contact_page", contactPagePayload("Contact"), &stored)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Contact", stored["heading"])
	assert.Equal(t, []interface{}{"Musterstraße 1", "10115 Berlin", "Germany"}, stored["address_lines"])

	updatedAt, err := time.Parse(time.RFC3339Nano, stored["updated_at"].(string))
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, updatedAt.After(before))

	var reread map[string]interface{}
	_, err = testService.client.RawGet("/contact_page", &reread)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, stored["heading"], reread["heading"])
	assert.Equal(t, stored["address_lines"], reread["address_lines"])
}

func TestContactPageConcurrentPut(t *testing.T) {
	payloadA := contactPagePayload("Writer A")
	payloadA["phone"] = "+49 1"
	payloadB := contactPagePayload("Writer B")
	payloadB["phone"] = "+49 2"

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = testService.client.RawPut("/contact_page", payloadA, nil)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = testService.client.RawPut("/contact_page", payloadB, nil)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	// the final state is exactly one of the two payloads, never a merge
	var final map[string]interface{}
	_, err := testService.client.RawGet("/contact_page", &final)
	if err != nil {
		t.Fatal(err)
	}
	switch final["heading"] {
	case "Writer A":
		assert.Equal(t, "+49 1", final["phone"])
	case "Writer B":
		assert.Equal(t, "+49 2", final["phone"])
	default:
		t.Fatal("unexpected contact page state:", asJSON(final))
	}
}

func TestMenuProjection(t *testing.T) {
	_, err := testService.client.RawPost("/product_categories", map[string]interface{}{
		"title": "Menu Active", "slug": "menu-active", "sort_order": 90,
		"subcategories": []Subcategory{{Title: "Sub", Slug: "sub"}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawPost("/product_categories", map[string]interface{}{
		"title": "Menu Inactive", "slug": "menu-inactive", "sort_order": 91, "is_active": false,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawPost("/service_categories", map[string]interface{}{
		"title": "Menu Service", "slug": "menu-service", "sort_order": 90,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var menu struct {
		ProductCategories []struct {
			ID            int64         `json:"id"`
			Title         string        `json:"title"`
			Slug          string        `json:"slug"`
			Subcategories []Subcategory `json:"subcategories"`
		} `json:"product_categories"`
		ServiceCategories []struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
			Slug  string `json:"slug"`
		} `json:"service_categories"`
	}
	_, err = testService.client.RawGet("/menu", &menu)
	if err != nil {
		t.Fatal(err)
	}

	foundActive := false
	for _, entry := range menu.ProductCategories {
		if entry.Slug == "menu-inactive" {
			t.Fatal("inactive category in menu:", asJSON(menu))
		}
		if entry.Slug == "menu-active" {
			foundActive = true
			assert.Equal(t, []Subcategory{{Title: "Sub", Slug: "sub"}}, entry.Subcategories)
		}
	}
	assert.True(t, foundActive)

	foundService := false
	for _, entry := range menu.ServiceCategories {
		foundService = foundService || entry.Slug == "menu-service"
	}
	assert.True(t, foundService)
}

func TestAuthorizationGates(t *testing.T) {
	router := testService.backend.router
	anonymous := client.NewWithRouter(router)
	editor := client.NewWithRouter(router).WithRole("editor")

	status, _ := anonymous.RawPost("/news", map[string]interface{}{"title": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = editor.RawPost("/news", map[string]interface{}{"title": "x"}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = editor.RawPut("/contact_page", contactPagePayload("x"), nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = editor.RawDelete("/news/1")
	assert.Equal(t, http.StatusForbidden, status)

	// reads are public
	status, _ = anonymous.RawGet("/news", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = anonymous.RawGet("/menu", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLogin(t *testing.T) {
	router := testService.backend.router
	anonymous := client.NewWithRouter(router)

	status, _ := anonymous.RawPostWithStatus("/login", map[string]string{"username": "admin", "password": "wrong"}, nil, http.StatusOK)
	assert.Equal(t, http.StatusUnauthorized, status)

	var response struct {
		Token string `json:"token"`
	}
	status, err := anonymous.RawPostWithStatus("/login", map[string]string{"username": "admin", "password": "test-password"}, &response, http.StatusOK)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusOK, status)
	if response.Token == "" {
		t.Fatal("no token")
	}

	// the minted token authorizes mutations through the middleware
	authenticated := client.NewWithRouter(router).WithToken(response.Token)
	news := News{}
	_, err = authenticated.RawPost("/news", map[string]interface{}{"title": "Token News"}, &news)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Token News", news.Title)

	// a forged token is rejected right away
	forged := client.NewWithRouter(router).WithToken(response.Token + "x")
	status, _ = forged.RawPost("/news", map[string]interface{}{"title": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUpload(t *testing.T) {
	data := []byte("\x89PNG fake image data")
	var response struct {
		URL string `json:"url"`
	}
	_, err := testService.client.PostMultipart("/uploads", "logo.png", data, &response)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, strings.HasPrefix(response.URL, "/uploads/"), response.URL)
	assert.True(t, strings.HasSuffix(response.URL, ".png"), response.URL)

	var stored []byte
	_, err = testService.client.RawGet(response.URL, &stored)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, data, stored)

	anonymous := client.NewWithRouter(testService.backend.router)
	status, _ := anonymous.PostMultipart("/uploads", "logo.png", data, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestNotifications(t *testing.T) {
	cert := struct {
		ID int64 `json:"id"`
	}{}
	_, err := testService.client.RawPost("/certifications", map[string]interface{}{"title": "ISO 9001"}, &cert)
	if err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("/certifications/%d", cert.ID)
	_, err = testService.client.RawPatch(path, map[string]interface{}{"description": "certified"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawDelete(path)
	if err != nil {
		t.Fatal(err)
	}

	assert.True(t, testService.notifier.contains("create certification"))
	assert.True(t, testService.notifier.contains("update certification"))
	assert.True(t, testService.notifier.contains("delete certification"))
}
