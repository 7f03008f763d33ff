package api

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/auth"
)

//go:embed openapi.yaml
var openapiSpec string

// SpecHandler serves the OpenAPI YAML spec with any runtime placeholders
// replaced. The embedded file contains {oktaIssuer} so clients don't have
// to know the actual tenant or issuer URL; we substitute it here before returning.
func SpecHandler(oktaIssuer string) http.HandlerFunc {
	spec := strings.ReplaceAll(openapiSpec, "{oktaIssuer}", oktaIssuer)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(spec))
	}
}

// SwaggerHandler serves a Swagger UI page that points at the OpenAPI spec.
// The page uses the CDN-hosted assets and is configured with OAuth2 settings
// so that operators can "Authorize" against the same Okta tenant used by the
// application. The authorize dialog preselects auth.AllScopes.
func SwaggerHandler(oktaDomain, clientID string) http.HandlerFunc {
	scopes, _ := json.Marshal(auth.AllScopes)
	return func(w http.ResponseWriter, r *http.Request) {
		scheme := r.URL.Scheme
		// r.URL.Scheme is only populated behind some proxies
		if scheme == "" {
			scheme = "http"
			if r.TLS != nil {
				scheme = "https"
			}
		}
		oauth2Redirect := scheme + "://" + r.Host + "/docs/oauth2-redirect.html"

		html := strings.ReplaceAll(swaggerHTML, "${SPEC_URL}", "/openapi.yaml")
		html = strings.ReplaceAll(html, "${OAUTH2_REDIRECT}", oauth2Redirect)
		// OKTA_DOMAIN is really the issuer base URL; pass as-is
		html = strings.ReplaceAll(html, "${OKTA_DOMAIN}", oktaDomain)
		html = strings.ReplaceAll(html, "${CLIENT_ID}", clientID)
		html = strings.ReplaceAll(html, "${SCOPES}", string(scopes))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}
}

// OAuthRedirectHandler serves the OAuth2 redirect page used by Swagger UI
func OAuthRedirectHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(oauthRedirectHTML))
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Swagger UI</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    const ui = SwaggerUIBundle({
      url: "${SPEC_URL}",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      oauth2RedirectUrl: "${OAUTH2_REDIRECT}",
    });
    window.ui = ui;

    // initialize OAuth settings with client id (no secret)
    ui.initOAuth({
      clientId: "${CLIENT_ID}",
      usePkceWithAuthorizationCodeGrant: true,
      scopes: ${SCOPES},
      // leaving clientSecret unset since PKCE is used
    });

    // hide only the client_id field; secret remains visible but we mark it optional
    const style = document.createElement('style');
    style.textContent =
      "/* Swagger UI modal uses .dialog-ux class for the form */\n" +
      " .dialog-ux input[name=\"client_id\"],\n" +
      " .dialog-ux label[for=\"client_id\"] {\n" +
      "     display: none !important;\n" +
      " }\n";
    document.head.appendChild(style);

    // once the modal appears, prefill client_id and annotate the secret field
    const observer = new MutationObserver(() => {
      const cidInput = document.querySelector('.dialog-ux input[name="client_id"]');
      if (cidInput) {
        cidInput.value = "${CLIENT_ID}";
      }
      const secretInput = document.querySelector('.dialog-ux input[name="client_secret"]');
      if (secretInput) {
        secretInput.placeholder = "optional, PKCE is used, leave blank";
        secretInput.disabled = true;
      }
    });
    observer.observe(document.body, { childList: true, subtree: true });

    const tokenBox = document.createElement('input');
    tokenBox.readOnly = true;
    tokenBox.style.width = '100%';
    tokenBox.placeholder = 'Bearer token will appear here after authorization';
    const container = document.createElement('div');
    container.style.margin = '10px 0';
    container.appendChild(tokenBox);
    document.body.insertBefore(container, document.getElementById('swagger-ui'));

    // poll for token after auth (Swagger UI stores it internally)
    function updateToken() {
      try {
        const at = ui.authActions && ui.authActions.getAccessToken && ui.authActions.getAccessToken();
        if (at && Object.keys(at).length) {
          // pick first token value
          const val = Object.values(at)[0];
          if (val) {
            tokenBox.value = val;
          }
        }
      } catch (e) {
        // ignore until ui is ready
      }
    }
    // run periodically for a short while
    const interval = setInterval(() => {
      updateToken();
    }, 1000);
    setTimeout(() => clearInterval(interval), 60000);
  }
  </script>
</body>
</html>`

const oauthRedirectHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"/><title>OAuth2 Redirect</title></head>
<body>
<script>
if (window.opener && window.opener.swaggerUIRedirectCallback) {
  window.opener.swaggerUIRedirectCallback(window.location.href);
}
</script>
</body>
</html>`
