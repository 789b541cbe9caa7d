package api

import (
	"fmt"
	"html"
)

const elementsVersion = "9.0.0"

// docsPage renders the Stoplight Elements viewer for the OpenAPI document at
// specURL, with a link back to the side panel.
func docsPage(title, specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <title>%[1]s</title>
  <link href="https://unpkg.com/@stoplight/elements@%[3]s/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@%[3]s/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { height: 100vh; margin: 0; }
    #back { position: fixed; top: 12px; right: 16px; z-index: 9999; color: #58a6ff; font: 12px sans-serif; }
  </style>
</head>
<body>
  <a id="back" href="/panel">Side panel</a>
  <elements-api apiDescriptionUrl="%[2]s" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" darkMode />
</body>
</html>`, html.EscapeString(title), html.EscapeString(specURL), elementsVersion)
}
